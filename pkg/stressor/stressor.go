// Package stressor repeatedly manufactures fully detached processes to stress
// the process table, session management, signal-disposition reset and
// descriptor churn, and counts how many were created.
//
// An Orchestrator creates a pipe, spawns one Coordinator process and counts
// the bytes that arrive on the pipe. A Coordinator spawns one new process,
// which runs the daemonization protocol, writes a single byte to the pipe and
// then acts as the next Coordinator; the spawning process waits for it or
// leaves it to init, then exits. The chain ends when a write to the pipe fails
// because the Orchestrator stopped reading, or when a stop signal arrives.
package stressor

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/grokify/daemonstress/pkg/retry"
)

// Role names under which the binary re-executes itself.
const (
	RoleCoordinator = "daemonstress-coordinator"
	RoleDaemon      = "daemonstress-daemon"
)

// notifyFD is the descriptor the notification channel's write end occupies in
// every spawned role (the first of exec.Cmd.ExtraFiles).
const notifyFD = 3

// DefaultSpawnAttempts bounds retries of the Orchestrator's own spawn.
const DefaultSpawnAttempts = 10

var (
	// ErrChannel is returned when the notification channel cannot be created.
	ErrChannel = errors.New("stressor: notification channel")
	// ErrSpawn is returned when the Coordinator cannot be created.
	ErrSpawn = errors.New("stressor: spawn coordinator")
)

// RunConfig holds per-run settings. It is read-only once a run starts.
type RunConfig struct {
	// DaemonWait makes every spawning process reap its child instead of
	// leaving it to init.
	DaemonWait bool
	// MaxOps stops the run after this many daemons; 0 means no limit.
	MaxOps uint64
	// Timeout stops the run after this long; 0 means no limit.
	Timeout time.Duration
	// SpawnAttempts bounds retries of transient failures when spawning the
	// Coordinator.
	SpawnAttempts uint64
	// Backoff throttles retries after transient spawn failures.
	Backoff retry.Settings
	// LogFile, LogLevel and LogJSON configure logging in the detached role
	// processes.
	LogFile  string
	LogLevel string
	LogJSON  bool
}

// DefaultRunConfig returns a config with no stop condition and default backoff.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		SpawnAttempts: DefaultSpawnAttempts,
		Backoff:       retry.DefaultSettings(),
	}
}

// Counter counts completed daemons. Only the Orchestrator increments it;
// other goroutines (control API, metrics) read it.
type Counter struct {
	n atomic.Uint64
}

// Inc adds one and returns the new value.
func (c *Counter) Inc() uint64 { return c.n.Add(1) }

// Load returns the current value.
func (c *Counter) Load() uint64 { return c.n.Load() }

// EndReason says why the Orchestrator's read loop finished.
type EndReason string

const (
	// EndStopped means the stop signal was observed.
	EndStopped EndReason = "stopped"
	// EndClosed means every write end of the channel was closed.
	EndClosed EndReason = "closed"
	// EndReadError means an unexpected read error ended the loop.
	EndReadError EndReason = "read-error"
	// EndNotStarted means the stop signal arrived before the Coordinator
	// could be spawned.
	EndNotStarted EndReason = "not-started"
)

// Result summarises a finished run.
type Result struct {
	RunID   string
	Ops     uint64
	Elapsed time.Duration
	End     EndReason
}

// Rate returns daemons per second.
func (r *Result) Rate() float64 {
	if r == nil || r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}
