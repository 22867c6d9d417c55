// Daemonstress is a process-creation stress generator that repeatedly
// manufactures fully detached processes and counts them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grokify/daemonstress/pkg/spawn"
)

var version = "0.1.0"

func main() {
	// Re-executed role processes never reach the CLI.
	if spawn.Init() {
		return
	}

	rootCmd := &cobra.Command{
		Use:   "daemonstress",
		Short: "Stress process creation by manufacturing daemons",
		Long: `Daemonstress repeatedly creates fully detached processes to exercise the
process table, session management, signal-disposition reset and descriptor
churn, and reports how many it created.

It supports:
  - Bounded runs by operation count or timeout
  - Reaping each daemon (--daemon-wait) or leaving it to init
  - Prometheus metrics and health endpoints
  - A Unix socket control API for status and stop`,
		Version:       version,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newStopCmd(),
		newConfigCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
