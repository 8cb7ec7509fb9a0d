// Beacon — autonomous reminder scheduler and notification dispatcher.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Beacon — autonomous reminder scheduler and notification dispatcher.",
	Long: `Beacon runs an autonomous execution loop on a configurable schedule,
queues reminder suggestions, and delivers them over webhook, ntfy, Slack,
and email channels. All state lives in a local database; the HTTP API
manages the schedule and the suggestion queue.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, triggerCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
