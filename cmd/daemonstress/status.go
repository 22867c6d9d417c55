package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grokify/daemonstress/pkg/control"
)

func newStatusCmd() *cobra.Command {
	var pidFile string
	var socketPath string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running stressor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid, err := control.IsRunning(pidFile)
			if err != nil {
				return fmt.Errorf("failed to check status: %w", err)
			}

			if !running {
				if jsonOutput {
					fmt.Println(`{"running":false}`)
				} else {
					fmt.Println("No stressor is running")
				}
				return nil
			}

			client := control.NewClient(socketPath)
			status, err := client.GetStatus()
			if err != nil {
				if jsonOutput {
					fmt.Printf(`{"running":true,"pid":%d,"socket_error":true}`, pid)
					fmt.Println()
				} else {
					fmt.Printf("Stressor running (PID %d) but socket not responding\n", pid)
				}
				return nil
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(status)
			}

			fmt.Printf("Stressor Status:\n")
			fmt.Printf("  Running:     yes\n")
			fmt.Printf("  PID:         %d\n", status.PID)
			fmt.Printf("  Run ID:      %s\n", status.RunID)
			fmt.Printf("  State:       %s\n", status.State)
			fmt.Printf("  Uptime:      %s\n", status.Uptime)
			fmt.Printf("  Daemons:     %d\n", status.Ops)
			fmt.Printf("  Daemon wait: %t\n", status.DaemonWait)
			if status.Version != "" {
				fmt.Printf("  Version:     %s\n", status.Version)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&pidFile, "pid-file", control.DefaultPIDFile, "PID file path")
	cmd.Flags().StringVar(&socketPath, "socket", control.DefaultSocketPath, "Unix socket path")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}
