package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/config"
)

// newConfigCmd creates the `dagrunnerd config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and scaffold dagrunnerd configuration",
		Long: `Manage dagrunnerd's YAML configuration.

Examples:
  dagrunnerd config init
  dagrunnerd config show`,
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default dagrunner.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			target := "dagrunner.yaml"
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("%s already exists; remove it first or edit it directly", target)
			}
			data, err := yaml.Marshal(config.Default())
			if err != nil {
				return err
			}
			if err := os.WriteFile(target, data, 0o600); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", target)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (file + environment overrides)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}
