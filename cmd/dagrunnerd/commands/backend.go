package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newBackendCmd creates the `dagrunnerd backend` command group.
func newBackendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Inspect the configured persistence backend",
	}
	cmd.AddCommand(newBackendInitCmd())
	return cmd
}

// newBackendInitCmd opens (and so migrates) the configured backend, then
// reports success. Schema creation happens on Open itself (CREATE TABLE IF
// NOT EXISTS for sqlite/postgres, directory creation for the file backend),
// so this is a dry run confirming the configured driver is reachable.
func newBackendInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Open the configured backend, creating its schema if needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := cfg.OpenBackend()
			if err != nil {
				return fmt.Errorf("opening backend: %w", err)
			}
			defer store.Close()

			id, err := store.NewDagobahID()
			if err != nil {
				return fmt.Errorf("backend did not allocate an id: %w", err)
			}
			fmt.Printf("backend %q ready (sample dagobah id: %s)\n", cfg.Backend.Driver, id)
			return nil
		},
	}
}
