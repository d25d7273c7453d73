package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tunnelctl/internal/config"
	"tunnelctl/internal/discovery"
	"tunnelctl/internal/supervisor"
)

func newKillPortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill-port <port>",
		Short: "Kill whatever is listening on a local TCP port",
		Long: `Terminates the process bound to the given port: SIGTERM first, then
SIGKILL after a short grace period. Useful when a stale listener blocks a
tunnel from binding its port.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.ParseUint(args[0], 10, 16)
			if err != nil || port == 0 {
				return fmt.Errorf("invalid port %q", args[0])
			}

			settings, err := config.LoadSettings()
			if err != nil {
				return fmt.Errorf("failed to load settings: %w", err)
			}
			sup := supervisor.New(discovery.New(settings), settings)

			if err := sup.KillProcessOnPort(uint16(port)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Port %d is free\n", port)
			return nil
		},
	}
}
