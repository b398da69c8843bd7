package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set from main via ldflags.
var Version = "0.0.0"

// VersionCmd returns the command that prints the build version.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the orchestrator version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
