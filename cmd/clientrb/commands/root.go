package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath     string
	attributeFiles []string
	verbose        bool
	jsonOutput     bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clientrb",
		Short: "clientrb - render and converge the Chef client configuration",
		Long: `clientrb turns layered node attributes into a Chef client.rb and keeps a
host converged on it.

Features:
  - Attribute sources in YAML, JSON, CUE, and Starlark
  - Deterministic client.rb rendering
  - Directory, gem, and template provisioning on local or SSH targets
  - Agent reload only when client.rb changes
  - Run history in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (default ./clientrb.yaml)")
	rootCmd.PersistentFlags().StringSliceVarP(&attributeFiles, "attributes", "a", nil, "attribute source, repeatable; overrides settings sources")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
