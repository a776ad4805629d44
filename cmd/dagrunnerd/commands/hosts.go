package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newHostsCmd creates the `dagrunnerd hosts` command group, exposing the
// engine's SSH host directory.
func newHostsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "List and resolve SSH host aliases",
	}
	cmd.AddCommand(newHostsListCmd(), newHostsShowCmd())
	return cmd
}

func newHostsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every SSH host alias (wildcard patterns excluded)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := openEngineForCLI(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			hosts := o.engine.GetHosts()
			if len(hosts) == 0 {
				fmt.Println("No SSH hosts configured.")
				return nil
			}
			for _, h := range hosts {
				fmt.Println(h)
			}
			return nil
		},
	}
}

func newHostsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <alias>",
		Short: "Resolve a single SSH host alias",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openEngineForCLI(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			spec, ok := o.engine.GetHost(args[0])
			if !ok {
				return fmt.Errorf("host alias %q did not resolve", args[0])
			}
			fmt.Printf("hostname: %s\n", spec.Hostname)
			fmt.Printf("user:     %s\n", spec.User)
			if spec.IdentityFile != "" {
				fmt.Printf("identity: %s\n", spec.IdentityFile)
			}
			return nil
		},
	}
}
