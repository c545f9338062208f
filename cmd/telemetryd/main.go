package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "telemetryd",
	Short: "Battery fleet telemetry service",
	Long: `telemetryd ingests VRLA battery telemetry, evaluates alert
thresholds, proxies remaining-useful-life predictions, and serves the
fleet query API and live subscription stream from a single binary.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("telemetryd version %s\nCommit: %s\n", Version, Commit))
	rootCmd.AddCommand(serveCmd, migrateCmd, createAdminCmd)
}
