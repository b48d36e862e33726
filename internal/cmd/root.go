package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root cobra command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "runbookd",
		Short: "Local daemon mediating coding-agent hooks into a physical runbook device",
		Long: `runbookd listens for hook notifications from a coding agent, correlates
them with terminal sessions, and drives a hardware keypad/dialpad plus an
editor extension over a small WebSocket protocol.`,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
