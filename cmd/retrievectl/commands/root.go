// Package commands implements CLI commands for retrievectl.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	rootCmd = &cobra.Command{
		Use:   "retrievectl",
		Short: "Operate a vnode leader-to-follower retrieve supervisor",
		Long: `retrievectl drives a supervisor.Supervisor that catches follower peers
up to a leader vnode: it ships committed data files, tails the live WAL, and
hands off to live forwarding once a peer reaches the leader's version.`,
	}
)

// Execute runs the CLI.
func Execute(v string) error {
	version = v

	rootCmd.AddCommand(
		versionCmd(),
		runCmd(),
		statusCmd(),
		watchCmd(),
		restartCmd(),
	)

	return rootCmd.Execute()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("retrievectl version %s\n", version)
		},
	}
}
