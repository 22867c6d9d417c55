package stressor

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/grokify/daemonstress/pkg/observability"
	"github.com/grokify/daemonstress/pkg/runstate"
	"github.com/grokify/daemonstress/pkg/spawn"
)

// spawnRequest describes one process creation retried under a backoff policy.
type spawnRequest struct {
	spawner spawn.Spawner
	role    string
	opts    spawn.Options
	policy  backoff.BackOff
	metrics *observability.Metrics
	logger  *slog.Logger
	// observe, if set, sees every transient failure and the delay chosen.
	observe func(error, time.Duration)
}

// spawnWithRetry creates the process, sleeping per policy after transient
// failures. Non-transient failures and a stopped context end it immediately;
// the sleep itself is interrupted by ctx.
func spawnWithRetry(ctx context.Context, req spawnRequest) (spawn.Child, error) {
	var child spawn.Child

	op := func() error {
		if runstate.Stopped(ctx) {
			return backoff.Permanent(ctx.Err())
		}
		res := req.spawner.Spawn(ctx, req.role, req.opts)
		switch res.Kind {
		case spawn.KindParent:
			child = res.Process
			return nil
		case spawn.KindTransient:
			return res.Err
		default:
			req.metrics.RecordSpawnFailure(ctx, req.role)
			return backoff.Permanent(res.Err)
		}
	}

	notify := func(err error, delay time.Duration) {
		req.metrics.RecordSpawnRetry(ctx, req.role, delay)
		req.logger.Debug("process creation starved, backing off",
			"role", req.role, "error", err, "delay", delay)
		if req.observe != nil {
			req.observe(err, delay)
		}
	}

	// backoff.WithContext gives up as soon as ctx's deadline is nearer than the
	// next delay, so it only sees cancellation, never the deadline.
	bctx, cancel := runstate.CancelOnly(ctx)
	defer cancel()

	if err := backoff.RetryNotify(op, backoff.WithContext(req.policy, bctx), notify); err != nil {
		return nil, err
	}
	return child, nil
}
