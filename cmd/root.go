package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPathFlag string

var rootCmd = &cobra.Command{
	Use:   "gatewire",
	Short: "gatewire is the operator gateway: WebSocket control plane, cron, and node pairing",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", "", "path to the gatewire config file (default: $GATEWIRE_CONFIG or ./gatewire.json5)")
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(pairCmd())
}

// Execute runs the root command, returning any error from the invoked
// subcommand.
func Execute() error {
	return rootCmd.Execute()
}

// resolveConfigPath applies the --config flag, then GATEWIRE_CONFIG, then
// falls back to the default file name in the working directory.
func resolveConfigPath() string {
	if configPathFlag != "" {
		return configPathFlag
	}
	if v := os.Getenv("GATEWIRE_CONFIG"); v != "" {
		return v
	}
	return "gatewire.json5"
}
