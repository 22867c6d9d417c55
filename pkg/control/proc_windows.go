//go:build windows

package control

import (
	"os"
)

// checkProcessAlive checks if a process is still running.
// On Windows, FindProcess only succeeds for live processes.
func checkProcessAlive(process *os.Process) error {
	return nil
}

// signalTerminate stops the process.
// On Windows, we use Kill() as SIGTERM is not supported.
func signalTerminate(process *os.Process) error {
	return process.Kill()
}
