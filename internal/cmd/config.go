package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"runbookd/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or validate runbookd configuration",
	}
	cmd.AddCommand(newConfigCheckCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate a config file without starting the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "config error: %v\n", err)
				os.Exit(exitConfigError)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: %d page(s), listen %s\n", cfg.PageCount(), cfg.ListenAddr)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config.yaml (default ~/.runbookd/config.yaml)")
	return cmd
}
