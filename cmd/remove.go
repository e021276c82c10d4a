package cmd

import (
	"fmt"
	"os"

	"github.com/locsim/ddfetch/internal/output"
	"github.com/spf13/cobra"
)

func newRemoveCmd() *cobra.Command {
	var platform string
	var versions []string

	cmd := &cobra.Command{
		Use:   "remove --version VERSION [--os OS]",
		Short: "Remove downloaded support files",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			c := newCatalog()
			failed := false
			for _, version := range versions {
				if err := c.Dir.Remove(platform, version); err != nil {
					output.PrintError(err.Error())
					failed = true
					continue
				}
				output.PrintSuccess(fmt.Sprintf("Removed %s %s", platform, version))
			}
			if failed {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&platform, "os", "iPhone OS", "Platform name")
	cmd.Flags().StringSliceVarP(&versions, "version", "v", nil, "Version(s) to remove")
	cmd.MarkFlagRequired("version")
	return cmd
}
