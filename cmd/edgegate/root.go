package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "edgegate",
	Short: "Edgegate - request admission gateway",
	Long: `Edgegate admits or rejects every request before it reaches the app:
site password gate, per-route rate limits, CSRF double-submit checks and
security headers. Admitted requests are proxied to UPSTREAM_URL.

Configuration comes from the environment and an optional .env file.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
}
