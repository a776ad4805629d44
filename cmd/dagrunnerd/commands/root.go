// Package commands implements dagrunnerd's CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dagrunnerd",
		Short: "dagrunnerd - DAG-based cron job scheduler",
		Long: `dagrunnerd runs shell commands locally or over SSH, organized into
per-job DAGs of tasks, with retry, persistence, and event emission.

Examples:
  dagrunnerd serve
  dagrunnerd job add nightly-build
  dagrunnerd job add-task nightly-build compile "make all"
  dagrunnerd schedule nightly-build "0 2 * * *"
  dagrunnerd hosts list`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newJobCmd(),
		newScheduleCmd(),
		newBackendCmd(),
		newHostsCmd(),
		newConfigCmd(),
		newHealthCmd(),
		newCompletionCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the dagrunnerd config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
