package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"tunnelctl/pkg/logging"
)

var logLevelFlag string
var logFormatFlag string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tunnelctl",
	Short: "Keep kubectl port-forward tunnels alive",
	Long: `tunnelctl manages long-lived TCP tunnels to services running in a
Kubernetes cluster. Each tunnel is a kubectl port-forward, optionally
re-exposed through a local socat relay, supervised so that dropped
connections come back on their own.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. invalid arguments, failed connections)
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.ParseLevel(logLevelFlag), logFormatFlag, os.Stderr)
	},
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "tunnelctl version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "text", "log format (text or json)")

	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newAddCmd())
	rootCmd.AddCommand(newEditCmd())
	rootCmd.AddCommand(newRemoveCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newRestartCmd())
	rootCmd.AddCommand(newStopAllCmd())
	rootCmd.AddCommand(newUpCmd())
	rootCmd.AddCommand(newKillPortCmd())
	rootCmd.AddCommand(newNamespacesCmd())
	rootCmd.AddCommand(newServicesCmd())
	rootCmd.AddCommand(newContextCmd())
	rootCmd.AddCommand(newDoctorCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
