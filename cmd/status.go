package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the runtime state of every connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager()
			if err != nil {
				return err
			}

			connections := m.Connections()
			if len(connections) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No connections configured.")
				return nil
			}

			for _, cfg := range connections {
				state, ok := m.State(cfg.ID)
				if !ok {
					continue
				}

				status := state.PortForwardStatus.String()
				if cfg.HasProxy() {
					status = fmt.Sprintf("%s (relay %s)", status, state.ProxyStatus)
				}
				line := fmt.Sprintf("%s  %s", describeConnection(cfg), status)
				if state.LastError != "" {
					line += fmt.Sprintf("  [%s]", state.LastError)
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}
