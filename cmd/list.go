package cmd

import (
	"fmt"
	"os"

	"github.com/locsim/ddfetch/internal/output"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var platform string
	var remote bool

	cmd := &cobra.Command{
		Use:   "list [--os OS] [--remote]",
		Short: "List downloaded versions, or the versions in the definitions file",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			c := newCatalog()
			var versions []string
			if remote {
				if err := c.Reload(); err != nil {
					output.PrintError(err.Error())
					os.Exit(1)
				}
				versions = c.Versions(platform)
			} else {
				var err error
				if versions, err = c.Dir.AvailableVersions(platform); err != nil {
					output.PrintError(err.Error())
					os.Exit(1)
				}
			}
			if len(versions) == 0 {
				output.PrintWarning(fmt.Sprintf("No versions found for %s", platform))
				return
			}
			output.PrintHeader(platform)
			for _, version := range versions {
				marker := output.FDebug("·")
				if c.Dir.IsDownloaded(platform, version) {
					marker = output.FSuccess("✓")
				}
				fmt.Printf("  %s %s\n", marker, version)
			}
		},
	}

	cmd.Flags().StringVar(&platform, "os", "iPhone OS", "Platform name")
	cmd.Flags().BoolVarP(&remote, "remote", "r", false, "List versions with explicit links in the definitions file")
	return cmd
}
