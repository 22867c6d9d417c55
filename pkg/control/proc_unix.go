//go:build !windows

package control

import (
	"os"
	"syscall"
)

// checkProcessAlive checks if a process is still running.
func checkProcessAlive(process *os.Process) error {
	return process.Signal(syscall.Signal(0))
}

// signalTerminate asks the process to stop; the stressor treats SIGTERM as a
// stop signal.
func signalTerminate(process *os.Process) error {
	return process.Signal(syscall.SIGTERM)
}
