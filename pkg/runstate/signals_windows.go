//go:build windows

package runstate

import "os"

// StopSignals are the signals that stop a stressor process.
var StopSignals = []os.Signal{os.Interrupt}

// ChildStopSignal is sent to a child whose wait is cancelled. Windows cannot
// deliver signals to other processes, so this ends up as a kill.
var ChildStopSignal os.Signal = os.Kill
