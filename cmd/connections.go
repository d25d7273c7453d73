package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tunnelctl/internal/config"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager()
			if err != nil {
				return err
			}

			connections := m.Connections()
			if len(connections) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No connections configured. Add one with 'tunnelctl add'.")
				return nil
			}
			for _, cfg := range connections {
				fmt.Fprintln(cmd.OutOrStdout(), describeConnection(cfg))
			}
			return nil
		},
	}
}

func newAddCmd() *cobra.Command {
	var namespace, service string
	var localPort, remotePort, proxyPort uint16
	var standard, disabled, noAutoReconnect, quiet bool

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a new tunnel connection",
		Long: `Adds a connection to the registry. By default the connection is enabled,
auto-reconnects, notifies on connect and disconnect, and uses the
direct-exec mode where every client gets its own dedicated port-forward.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager()
			if err != nil {
				return err
			}

			cfg := config.NewConnection(args[0], namespace, service, localPort, remotePort)
			if proxyPort != 0 {
				cfg.ProxyPort = &proxyPort
			}
			if standard {
				cfg.UseDirectExec = false
			}
			if disabled {
				cfg.IsEnabled = false
			}
			if noAutoReconnect {
				cfg.AutoReconnect = false
			}
			if quiet {
				cfg.NotifyOnConnect = false
				cfg.NotifyOnDisconnect = false
			}

			if err := m.AddConnection(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added connection %s (%s)\n", cfg.Name, cfg.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Kubernetes namespace of the service")
	cmd.Flags().StringVarP(&service, "service", "s", "", "Kubernetes service to tunnel to")
	cmd.Flags().Uint16VarP(&localPort, "local-port", "l", 0, "local port the tunnel listens on")
	cmd.Flags().Uint16VarP(&remotePort, "remote-port", "r", 0, "service port on the cluster side")
	cmd.Flags().Uint16Var(&proxyPort, "proxy-port", 0, "re-expose the tunnel on this port through a relay")
	cmd.Flags().BoolVar(&standard, "standard", false, "use a single shared port-forward instead of direct-exec mode")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "add the connection without enabling it")
	cmd.Flags().BoolVar(&noAutoReconnect, "no-auto-reconnect", false, "do not reconnect automatically when the tunnel drops")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress connect and disconnect notifications")

	_ = cmd.MarkFlagRequired("namespace")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("local-port")
	_ = cmd.MarkFlagRequired("remote-port")

	return cmd
}

func newEditCmd() *cobra.Command {
	var name, namespace, service string
	var localPort, remotePort, proxyPort uint16
	var enable, disable, autoReconnect, directExec bool

	cmd := &cobra.Command{
		Use:   "edit <name|id>",
		Short: "Change an existing connection",
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

			flags := cmd.Flags()
			if flags.Changed("name") {
				cfg.Name = name
			}
			if flags.Changed("namespace") {
				cfg.Namespace = namespace
			}
			if flags.Changed("service") {
				cfg.Service = service
			}
			if flags.Changed("local-port") {
				cfg.LocalPort = localPort
			}
			if flags.Changed("remote-port") {
				cfg.RemotePort = remotePort
			}
			if flags.Changed("proxy-port") {
				if proxyPort == 0 {
					cfg.ProxyPort = nil
				} else {
					port := proxyPort
					cfg.ProxyPort = &port
				}
			}
			if flags.Changed("auto-reconnect") {
				cfg.AutoReconnect = autoReconnect
			}
			if flags.Changed("direct-exec") {
				cfg.UseDirectExec = directExec
			}
			if enable {
				cfg.IsEnabled = true
			}
			if disable {
				cfg.IsEnabled = false
			}

			if err := m.UpdateConnection(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated connection %s\n", cfg.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "rename the connection")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Kubernetes namespace of the service")
	cmd.Flags().StringVarP(&service, "service", "s", "", "Kubernetes service to tunnel to")
	cmd.Flags().Uint16VarP(&localPort, "local-port", "l", 0, "local port the tunnel listens on")
	cmd.Flags().Uint16VarP(&remotePort, "remote-port", "r", 0, "service port on the cluster side")
	cmd.Flags().Uint16Var(&proxyPort, "proxy-port", 0, "relay port, 0 removes the relay")
	cmd.Flags().BoolVar(&autoReconnect, "auto-reconnect", true, "reconnect automatically when the tunnel drops")
	cmd.Flags().BoolVar(&directExec, "direct-exec", true, "give every client its own dedicated port-forward")
	cmd.Flags().BoolVar(&enable, "enable", false, "enable the connection")
	cmd.Flags().BoolVar(&disable, "disable", false, "disable the connection")
	cmd.MarkFlagsMutuallyExclusive("enable", "disable")

	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name|id>",
		Short: "Remove a connection, stopping it first",
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
			if err := m.RemoveConnection(cfg.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed connection %s\n", cfg.Name)
			return nil
		},
	}
}
