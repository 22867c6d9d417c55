package stressor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/daemonstress/pkg/daemonize"
	"github.com/grokify/daemonstress/pkg/spawn"
)

type fakeChild struct {
	pid      int
	waited   atomic.Bool
	released atomic.Bool
}

func (c *fakeChild) Pid() int { return c.pid }

func (c *fakeChild) Wait(ctx context.Context) error {
	c.waited.Store(true)
	return nil
}

func (c *fakeChild) Signal(os.Signal) error { return nil }

func (c *fakeChild) Release() error {
	c.released.Store(true)
	return nil
}

type spawnCall struct {
	role string
	opts spawn.Options
}

// fakeSpawner answers Spawn with results in order, repeating the last one.
type fakeSpawner struct {
	mu      sync.Mutex
	results []spawn.Result
	calls   []spawnCall
	// onParent runs for a successful spawn before it is returned.
	onParent func(opts spawn.Options, child *fakeChild)
	child    *fakeChild
}

func (f *fakeSpawner) Spawn(ctx context.Context, role string, opts spawn.Options) spawn.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, spawnCall{role: role, opts: opts})
	res := spawn.Result{Kind: spawn.KindParent}
	if len(f.results) > 0 {
		res = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	if res.Kind == spawn.KindParent {
		if f.child == nil {
			f.child = &fakeChild{pid: 4242}
		}
		if f.onParent != nil {
			f.onParent(opts, f.child)
		}
		res.Process = f.child
	}
	return res
}

func (f *fakeSpawner) Calls() []spawnCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]spawnCall(nil), f.calls...)
}

func transient() spawn.Result {
	return spawn.Result{Kind: spawn.KindTransient, Err: fmt.Errorf("fork: %w", syscall.EAGAIN)}
}

func fatal() spawn.Result {
	return spawn.Result{Kind: spawn.KindFatal, Err: fmt.Errorf("fork: %w", syscall.EPERM)}
}

// writeBytes returns an onParent hook that writes b to the channel as if a
// chain of daemons had each notified once.
func writeBytes(b ...byte) func(spawn.Options, *fakeChild) {
	return func(opts spawn.Options, _ *fakeChild) {
		_, _ = opts.Files[0].Write(b)
	}
}

func sentinels(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = daemonize.Sentinel
	}
	return out
}

func nilLogger() *slog.Logger { return slogutil.Null() }
