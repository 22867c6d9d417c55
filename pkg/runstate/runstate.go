// Package runstate carries the stressor's stop signal and lifecycle state.
//
// The stop signal is a context.Context: it is cancelled by a timer, by an
// operation limit, by a delivered stop signal, or by the control API, and every
// loop and blocking call in the stressor observes it.
package runstate

import (
	"context"
	"os/signal"
	"sync/atomic"
)

// WithStopSignals returns a context cancelled when any of StopSignals is
// delivered to the process.
func WithStopSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, StopSignals...)
}

// Stopped reports whether ctx has been cancelled.
func Stopped(ctx context.Context) bool {
	return ctx.Err() != nil
}

// CancelOnly returns a context that is cancelled when ctx is done but that
// carries no deadline of its own. Callers must call cancel to release it.
func CancelOnly(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	return cctx, func() {
		stop()
		cancel()
	}
}

// State is a stressor lifecycle phase.
type State int32

const (
	StateInit State = iota
	StateRun
	StateDeinit
	StateExit
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRun:
		return "run"
	case StateDeinit:
		return "deinit"
	case StateExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Tracker records the current State. It is safe for concurrent use; the
// zero value reports StateInit.
type Tracker struct {
	state atomic.Int32
}

// Set records a new state.
func (t *Tracker) Set(s State) {
	if t == nil {
		return
	}
	t.state.Store(int32(s))
}

// Get returns the current state.
func (t *Tracker) Get() State {
	if t == nil {
		return StateInit
	}
	return State(t.state.Load())
}
