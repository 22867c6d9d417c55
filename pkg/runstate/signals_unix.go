//go:build !windows

package runstate

import (
	"os"
	"syscall"
)

// StopSignals are the signals that stop a stressor process. SIGALRM is what a
// harness sends when the run's time is up.
var StopSignals = []os.Signal{syscall.SIGALRM, syscall.SIGTERM, syscall.SIGINT}

// ChildStopSignal is sent to a child whose wait is cancelled.
var ChildStopSignal os.Signal = syscall.SIGALRM
