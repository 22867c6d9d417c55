package stressor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/daemonstress/pkg/daemonize"
	"github.com/grokify/daemonstress/pkg/logging"
	"github.com/grokify/daemonstress/pkg/observability"
	"github.com/grokify/daemonstress/pkg/retry"
	"github.com/grokify/daemonstress/pkg/runstate"
	"github.com/grokify/daemonstress/pkg/spawn"
)

// Orchestrator is the user-facing unit: it owns the notification channel and
// the counter, spawns the first Coordinator and counts daemons until stopped.
type Orchestrator struct {
	Config  RunConfig
	Spawner spawn.Spawner
	Metrics *observability.Metrics
	Counter *Counter
	State   *runstate.Tracker
	RunID   string

	// pipe creates the notification channel.
	pipe func() (*os.File, *os.File, error)
}

// NewOrchestrator returns an Orchestrator that spawns real processes.
func NewOrchestrator(cfg RunConfig) *Orchestrator {
	return &Orchestrator{
		Config:  cfg,
		Spawner: spawn.Exec{StopSignal: runstate.ChildStopSignal},
		Counter: &Counter{},
		State:   &runstate.Tracker{},
		RunID:   uuid.NewString(),
	}
}

// deadlineReader is the read end of the notification channel.
type deadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// Run executes one stress run. It returns once the stop signal has been
// observed or the channel is closed by every writer. The returned error is
// non-nil only if the channel or the Coordinator could not be created.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	logger := logging.Component(slogutil.LoggerFromContext(ctx, slogutil.Null()), "orchestrator").With("run_id", o.RunID)

	if o.Counter == nil {
		o.Counter = &Counter{}
	}
	if o.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Config.Timeout)
		defer cancel()
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	o.State.Set(runstate.StateInit)
	defer o.State.Set(runstate.StateExit)

	start := time.Now()
	res := &Result{RunID: o.RunID}
	finish := func(end EndReason) *Result {
		res.Ops = o.Counter.Load()
		res.Elapsed = time.Since(start)
		res.End = end
		return res
	}

	pipe := o.pipe
	if pipe == nil {
		pipe = os.Pipe
	}
	r, w, err := pipe()
	if err != nil {
		logger.Error("create notification channel", "error", err)
		return finish(EndNotStarted), fmt.Errorf("%w: %w", ErrChannel, err)
	}

	policy := backoff.WithMaxRetries(retry.NewLinear(o.Config.Backoff), o.Config.SpawnAttempts)
	child, err := spawnWithRetry(ctx, spawnRequest{
		spawner: o.Spawner,
		role:    RoleCoordinator,
		opts: spawn.Options{
			Args:  encodeArgs(o.Config),
			Files: []*os.File{w},
		},
		policy:  policy,
		metrics: o.Metrics,
		logger:  logger,
	})
	// The children hold their own copies; ours would keep the channel open
	// forever.
	_ = w.Close()
	if err != nil {
		_ = r.Close()
		if runstate.Stopped(ctx) {
			logger.Info("stopped before coordinator started")
			return finish(EndNotStarted), nil
		}
		logger.Error("spawn coordinator", "error", err)
		return finish(EndNotStarted), fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	logger.Info("run started", "coordinator_pid", child.Pid(), "daemon_wait", o.Config.DaemonWait)
	o.State.Set(runstate.StateRun)
	o.Metrics.RunStart(ctx)

	end := o.drain(ctx, r, stop, logger)

	o.State.Set(runstate.StateDeinit)
	// Closing the read end is what makes the next daemon's write fail.
	_ = r.Close()
	if o.Config.DaemonWait {
		if err := child.Wait(ctx); err != nil {
			logger.Debug("coordinator exited", "error", err)
		}
	} else {
		_ = child.Release()
	}

	finish(end)
	o.Metrics.RunEnd(context.WithoutCancel(ctx), string(end), res.Elapsed)
	logger.Info("run finished", "ops", res.Ops, "end", string(end), "elapsed", res.Elapsed)
	return res, nil
}

// drain counts sentinel bytes until the channel closes, ctx is done or a read
// fails. Reaching MaxOps calls stop.
func (o *Orchestrator) drain(ctx context.Context, r deadlineReader, stop context.CancelFunc, logger *slog.Logger) EndReason {
	unblock := context.AfterFunc(ctx, func() {
		_ = r.SetReadDeadline(time.Now())
	})
	defer unblock()

	buf := make([]byte, 1)
	for {
		if runstate.Stopped(ctx) {
			return EndStopped
		}
		n, err := r.Read(buf)
		if n == 1 {
			if buf[0] == daemonize.Sentinel {
				ops := o.Counter.Inc()
				o.Metrics.RecordDaemonCreated(ctx)
				if o.Config.MaxOps > 0 && ops >= o.Config.MaxOps {
					stop()
				}
			} else {
				logger.Debug("ignoring unexpected byte on channel", "byte", buf[0])
			}
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, io.EOF):
			return EndClosed
		case errors.Is(err, os.ErrDeadlineExceeded) || runstate.Stopped(ctx):
			return EndStopped
		default:
			logger.Debug("read notification channel", "error", err)
			o.Metrics.RecordReadError(ctx)
			return EndReadError
		}
	}
}
