package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tunnelctl/internal/tunnel"
	"tunnelctl/pkg/logging"
)

// monitorInterval is the health sweep cadence while up is running.
const monitorInterval = time.Second

func newUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Start all enabled tunnels and supervise them",
		Long: `Starts every enabled connection, then keeps them healthy: a sweep runs
every second, restarting tunnels whose process died or whose port stopped
answering. Runs until interrupted; Ctrl-C tears all tunnels down.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager()
			if err != nil {
				return err
			}

			started := 0
			for _, cfg := range m.Connections() {
				if !cfg.IsEnabled {
					continue
				}
				if err := m.Start(cfg.ID); err != nil {
					logging.Warn("Up", "Failed to start %s: %v", cfg.Name, err)
					continue
				}
				started++
			}
			drainNotifications(m)

			if started == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No enabled connections to supervise.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Supervising %d connection(s). Ctrl-C to stop.\n", started)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			ticker := time.NewTicker(monitorInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					m.Monitor()
					drainNotifications(m)
				case sig := <-sigCh:
					logging.Info("Up", "Received %s, shutting down", sig)
					m.StopAll()
					fmt.Fprintln(cmd.OutOrStdout(), "All tunnels stopped.")
					return nil
				case <-cmd.Context().Done():
					m.StopAll()
					return nil
				}
			}
		},
	}
}

// drainNotifications surfaces queued connection events through the log.
func drainNotifications(m *tunnel.Manager) {
	for _, n := range m.DrainNotifications() {
		switch n.Kind {
		case tunnel.NotificationConnected:
			logging.Info("Up", "%s connected", n.ConnectionName)
		case tunnel.NotificationDisconnected:
			logging.Warn("Up", "%s disconnected", n.ConnectionName)
		case tunnel.NotificationError:
			logging.Error("Up", nil, "%s: %s", n.ConnectionName, n.Message)
		}
	}
}
