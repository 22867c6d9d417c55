package stressor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/daemonstress/pkg/logging"
	"github.com/grokify/daemonstress/pkg/observability"
	"github.com/grokify/daemonstress/pkg/retry"
	"github.com/grokify/daemonstress/pkg/runstate"
	"github.com/grokify/daemonstress/pkg/spawn"
)

// Coordinator is one generation point: it spawns exactly one daemon, then
// waits for it or leaves it to init. The daemon it spawns becomes the next
// Coordinator.
type Coordinator struct {
	Config  RunConfig
	Spawner spawn.Spawner
	// Notify is the channel's write end, handed down to the daemon.
	Notify  *os.File
	Metrics *observability.Metrics

	observe func(error, time.Duration)
}

// Run spawns the next daemon. Transient failures are retried with a linear
// backoff that lives as long as this Coordinator; any other failure ends it
// with an error. A stopped ctx ends it without error.
func (c *Coordinator) Run(ctx context.Context) error {
	logger := logging.Component(slogutil.LoggerFromContext(ctx, slogutil.Null()), "coordinator")

	child, err := spawnWithRetry(ctx, spawnRequest{
		spawner: c.Spawner,
		role:    RoleDaemon,
		opts: spawn.Options{
			Args:  encodeArgs(c.Config),
			Files: []*os.File{c.Notify},
		},
		policy:  retry.NewLinear(c.Config.Backoff),
		metrics: c.Metrics,
		logger:  logger,
		observe: c.observe,
	})
	if err != nil {
		if runstate.Stopped(ctx) {
			return nil
		}
		return fmt.Errorf("spawn daemon: %w", err)
	}

	if !c.Config.DaemonWait {
		// init reaps it once this process exits.
		return child.Release()
	}

	if err := child.Wait(ctx); err != nil {
		logger.Debug("daemon exited", "pid", child.Pid(), "error", err)
	}
	return nil
}
