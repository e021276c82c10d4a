package cmd

import (
	"fmt"
	"os"
	"slices"

	"github.com/goccy/go-yaml"
	"github.com/locsim/ddfetch/internal/group"
	"github.com/locsim/ddfetch/internal/output"
	"github.com/locsim/ddfetch/internal/scheduler"
	"github.com/spf13/cobra"
)

type BatchEntry struct {
	ID          string `yaml:"id,omitempty"`
	OutputPath  string `yaml:"op"`
	Link        string `yaml:"link"`
	Description string `yaml:"description,omitempty"`
}

// BatchFile maps a group name to the files downloaded together.
type BatchFile map[string][]BatchEntry

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Download groups listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			batchFile, err := readBatchFile(args[0])
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			jobs := buildJobsFromBatch(batchFile)
			if len(jobs) == 0 {
				output.PrintError("No valid groups found in the batch file")
				os.Exit(1)
			}
			exitOnFailure(runJobs(jobs))
		},
	}
	return cmd
}

func readBatchFile(path string) (BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var batchFile BatchFile
	if err := yaml.Unmarshal(data, &batchFile); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	return batchFile, nil
}

func buildJobsFromBatch(batchFile BatchFile) []scheduler.Job {
	names := make([]string, 0, len(batchFile))
	for name := range batchFile {
		names = append(names, name)
	}
	slices.Sort(names)

	var jobs []scheduler.Job
	for _, name := range names {
		entries := batchFile[name]
		if len(entries) == 0 {
			output.PrintWarning(fmt.Sprintf("Group '%s' has no entries, skipping...", name))
			continue
		}
		jobs = append(jobs, scheduler.Job{
			Name: name,
			Build: func(opts group.Options) (*group.Group, error) {
				tasks := make([]*group.Task, 0, len(entries))
				for i, entry := range entries {
					id := entry.ID
					if id == "" {
						id = fmt.Sprintf("%s-%d", name, i+1)
					}
					task, err := group.NewTask(id, entry.Link, entry.OutputPath, entry.Description)
					if err != nil {
						return nil, err
					}
					tasks = append(tasks, task)
				}
				return group.New(tasks, opts)
			},
		})
	}
	return jobs
}
