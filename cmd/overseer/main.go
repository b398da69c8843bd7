package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/overseer-dev/overseer/internal/cmd"
)

var version = "0.0.0"

var rootCmd = &cobra.Command{
	Use:   "overseer",
	Short: "Overseer supervises long-running coding agents",
	Long: `Overseer is an orchestration server for long-running coding agents.

It plans work as DAGs of agent tasks, runs agents as local subprocesses
or dispatches them to remote devices, enforces per-task file scopes, and
answers questions about a project through an iterative working-memory
retrieval engine.
`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(cmd.Serve())
	rootCmd.AddCommand(cmd.VersionCmd())

	cmd.Version = version
}
