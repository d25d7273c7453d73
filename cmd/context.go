package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tunnelctl/internal/discovery"
)

func newContextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "context [name]",
		Short: "Show or switch the kubeconfig context",
		Long: `Without an argument, prints the active kubeconfig context and the other
available ones. With an argument, switches to that context. Tunnels started
before a switch keep forwarding to the cluster they were started against.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := discovery.SwitchContext(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %s\n", args[0])
				return nil
			}

			current, err := discovery.CurrentContext()
			if err != nil {
				return err
			}
			contexts, err := discovery.AvailableContexts()
			if err != nil {
				return err
			}

			for _, name := range contexts {
				marker := "  "
				if name == current {
					marker = "* "
				}
				fmt.Fprintln(cmd.OutOrStdout(), marker+name)
			}
			return nil
		},
	}
}
