package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newHealthCmd creates the `dagrunnerd health` command, used by container
// healthchecks and monitoring probes.
func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the configured backend is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				fmt.Printf(`{"status":"error","error":%q}`+"\n", err.Error())
				return err
			}
			store, err := cfg.OpenBackend()
			if err != nil {
				fmt.Printf(`{"status":"error","error":%q}`+"\n", err.Error())
				return err
			}
			defer store.Close()

			fmt.Printf(`{"status":"ok","backend":%q}`+"\n", cfg.Backend.Driver)
			return nil
		},
	}
}
