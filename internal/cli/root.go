// Package cli implements the gateway command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "hydroloop gateway — hydroponics telemetry ingest and rule engine",
	Long: `hydroloop gateway ingests field sensor readings, evaluates
configurable rules, and dispatches alerts, device commands, and HVAC
control to keep a hydroponic deployment inside its target ranges.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
