package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/grokify/daemonstress/pkg/control"
)

func newStopCmd() *cobra.Command {
	var pidFile string
	var socketPath string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running stressor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Try graceful stop via socket first
			client := control.NewClient(socketPath)
			if err := client.Stop(); err == nil {
				deadline := time.Now().Add(timeout)
				for time.Now().Before(deadline) {
					time.Sleep(100 * time.Millisecond)
					if running, _, _ := control.IsRunning(pidFile); !running {
						fmt.Println("Stressor stopped")
						return nil
					}
				}
			}

			// Fall back to PID-based stop
			pid, err := control.StopByPID(pidFile, timeout)
			if err != nil {
				return err
			}
			fmt.Printf("Stressor (PID %d) stopped\n", pid)
			return nil
		},
	}

	cmd.Flags().StringVar(&pidFile, "pid-file", control.DefaultPIDFile, "PID file path")
	cmd.Flags().StringVar(&socketPath, "socket", control.DefaultSocketPath, "Unix socket path")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for the run to exit")

	return cmd
}
