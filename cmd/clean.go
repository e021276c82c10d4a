package cmd

import (
	"fmt"
	"os"

	"github.com/locsim/ddfetch/internal/output"
	"github.com/locsim/ddfetch/internal/utils"
	"github.com/spf13/cobra"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [path]",
		Short: "Clean up temporary files left by interrupted downloads",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dir := cfg.SupportDir
			if len(args) > 0 {
				dir = args[0]
			}
			removed, err := utils.CleanDir(dir)
			if err != nil && !os.IsNotExist(err) {
				output.PrintError(fmt.Sprintf("Error cleaning up temporary files: %v", err))
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d temporary file(s)", removed))
		},
	}
}
