package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tunnelctl/internal/discovery"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check binaries, kubeconfig, and cluster health",
		Long: `Verifies that kubectl and socat can be found, shows the active kubeconfig
context, and queries the cluster for node readiness.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDiscovery()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "kubectl: %s\n", checkmark(d.IsKubectlAvailable(), d.KubectlPath(), "not found"))
			fmt.Fprintf(out, "socat:   %s\n", checkmark(d.IsSocatAvailable(), d.SocatPath(), "not found (relay and direct-exec modes unavailable)"))

			current, err := discovery.CurrentContext()
			if err != nil {
				fmt.Fprintf(out, "context: error: %v\n", err)
				return nil
			}
			fmt.Fprintf(out, "context: %s\n", current)

			health, err := discovery.ClusterNodeHealth(cmd.Context(), current)
			if err != nil {
				fmt.Fprintf(out, "cluster: unreachable: %v\n", err)
				return nil
			}
			fmt.Fprintf(out, "cluster: %d/%d nodes ready\n", health.ReadyNodes, health.TotalNodes)
			return nil
		},
	}
}

func checkmark(ok bool, okMsg, failMsg string) string {
	if ok {
		return "ok (" + okMsg + ")"
	}
	return failMsg
}
