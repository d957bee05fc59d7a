package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "habitbot",
		Short: "Routine runner and habit tracker backend for chat bots",
		Long: `habitbot runs guided routines step by step, one live session per user,
and auto-logs habits linked to routine steps.

Examples:
  habitbot serve                          # Start the HTTP API
  habitbot stats --user 42 --routine 3    # Print execution stats for a routine`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		statsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
