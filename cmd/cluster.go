package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tunnelctl/internal/config"
	"tunnelctl/internal/discovery"
)

// buildDiscovery is the lighter assembly for read-only cluster queries.
func buildDiscovery() (*discovery.Discovery, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return discovery.New(settings), nil
}

func newNamespacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "namespaces",
		Short: "List namespaces in the current cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDiscovery()
			if err != nil {
				return err
			}

			namespaces, err := d.FetchNamespaces(cmd.Context())
			if err != nil {
				return err
			}
			for _, ns := range namespaces {
				fmt.Fprintln(cmd.OutOrStdout(), ns.Name)
			}
			return nil
		},
	}
}

func newServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services <namespace>",
		Short: "List services in a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDiscovery()
			if err != nil {
				return err
			}

			services, err := d.FetchServices(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, svc := range services {
				ports := ""
				for i, p := range svc.Ports {
					if i > 0 {
						ports += ", "
					}
					ports += p.DisplayName()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-12s %s\n", svc.Name, svc.Type, ports)
			}
			return nil
		},
	}
}
