package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tunnelctl/internal/tunnel"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <name|id>",
		Short: "Start a tunnel connection",
		Long: `Starts the tunnel and blocks through the stabilization delay until the
local port answers. Note that the tunnel's processes are children of this
invocation; use 'tunnelctl up' to keep tunnels alive under supervision.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager()
			if err != nil {
				return err
			}
			cfg, err := resolveConnection(m, args[0])
			if err != nil {
				return err
			}

			if err := m.Start(cfg.ID); err != nil {
				return err
			}
			reportStartOutcome(cmd, m, cfg.ID, cfg.Name)
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name|id>",
		Short: "Stop a tunnel connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager()
			if err != nil {
				return err
			}
			cfg, err := resolveConnection(m, args[0])
			if err != nil {
				return err
			}

			m.Stop(cfg.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s\n", cfg.Name)
			return nil
		},
	}
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name|id>",
		Short: "Restart a tunnel connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager()
			if err != nil {
				return err
			}
			cfg, err := resolveConnection(m, args[0])
			if err != nil {
				return err
			}

			if err := m.Restart(cfg.ID); err != nil {
				return err
			}
			reportStartOutcome(cmd, m, cfg.ID, cfg.Name)
			return nil
		},
	}
}

func newStopAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every tunnel, tracked or not",
		Long: `Force-kills every kubectl port-forward and socat listener on the machine,
including ones left behind by earlier runs, and cleans up leftover wrapper
scripts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager()
			if err != nil {
				return err
			}
			m.StopAll()
			fmt.Fprintln(cmd.OutOrStdout(), "All tunnels stopped.")
			return nil
		},
	}
}

// reportStartOutcome prints where a started connection ended up, since Start
// reports probe failures through state rather than its return value.
func reportStartOutcome(cmd *cobra.Command, m *tunnel.Manager, id uuid.UUID, name string) {
	state, ok := m.State(id)
	if !ok {
		return
	}
	switch state.PortForwardStatus {
	case tunnel.StatusConnected:
		fmt.Fprintf(cmd.OutOrStdout(), "%s is connected\n", name)
	case tunnel.StatusError:
		fmt.Fprintf(cmd.OutOrStdout(), "%s failed: %s\n", name, state.LastError)
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", name, state.PortForwardStatus)
	}
}
