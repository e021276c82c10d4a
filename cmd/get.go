package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/locsim/ddfetch/internal/group"
	"github.com/locsim/ddfetch/internal/output"
	"github.com/locsim/ddfetch/internal/scheduler"
	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "get SOURCE DEST [SOURCE DEST ...] [--name NAME]",
		Short: "Download arbitrary sources as one all-or-nothing group",
		Long: "Download arbitrary sources as one group. Sources may be http(s)://, s3://, gs://,\n" +
			"file://, gdrive://FILE_ID or git+https://host/repo.git?ref=REF#path URIs.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return fmt.Errorf("expected SOURCE DEST pairs, got %d argument(s)", len(args))
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			job := scheduler.Job{
				Name: name,
				Build: func(opts group.Options) (*group.Group, error) {
					tasks, err := pairTasks(args)
					if err != nil {
						return nil, err
					}
					return group.New(tasks, opts)
				},
			}
			if job.Name == "" {
				job.Name = filepath.Base(args[1])
			}
			if err := runJobs([]scheduler.Job{job}); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name of the group")
	return cmd
}

// pairTasks turns SOURCE DEST argument pairs into tasks named after their
// destination files.
func pairTasks(args []string) ([]*group.Task, error) {
	var tasks []*group.Task
	seen := make(map[string]int)
	for i := 0; i+1 < len(args); i += 2 {
		id := filepath.Base(args[i+1])
		seen[id]++
		if seen[id] > 1 {
			id = fmt.Sprintf("%s-%d", id, seen[id])
		}
		task, err := group.NewTask(id, args[i], args[i+1], "")
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
