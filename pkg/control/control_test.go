package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/gofrs/flock"
	"github.com/grokify/mogo/log/slogutil"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	// Unix socket paths are length-limited, so keep them short.
	tmpDir, err := os.MkdirTemp("", "dstress")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	return &Config{
		PIDFile:    filepath.Join(tmpDir, "test.pid"),
		SocketPath: filepath.Join(tmpDir, "test.sock"),
		Version:    "test",
	}
}

func TestControlConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PIDFile == "" {
		t.Error("PIDFile should not be empty")
	}
	if cfg.SocketPath == "" {
		t.Error("SocketPath should not be empty")
	}
}

func TestServerStatusBeforeStart(t *testing.T) {
	s := New(&Config{Version: "1.0.0"}, nil)
	s.SetRunInfo(func() RunInfo {
		return RunInfo{RunID: "abc", State: "init", Ops: 7, DaemonWait: true}
	})

	status := s.Status()
	if status.Running {
		t.Error("server should not be running initially")
	}
	if status.PID != 0 {
		t.Errorf("expected no PID before start, got %d", status.PID)
	}
	if status.RunID != "abc" || status.Ops != 7 || !status.DaemonWait {
		t.Errorf("run info not reported: %+v", status)
	}
	if status.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", status.Version)
	}
}

func TestServerStartStop(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, nil)

	var ops atomic.Uint64
	s.SetRunInfo(func() RunInfo {
		return RunInfo{RunID: "run-1", State: "run", Ops: ops.Load()}
	})

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	if _, err := os.Stat(cfg.PIDFile); os.IsNotExist(err) {
		t.Error("PID file was not created")
	}
	if _, err := os.Stat(cfg.SocketPath); os.IsNotExist(err) {
		t.Error("socket file was not created")
	}

	ops.Store(42)

	client := NewClient(cfg.SocketPath)
	status, err := client.GetStatus()
	if err != nil {
		t.Fatalf("failed to get status via API: %v", err)
	}
	if !status.Running {
		t.Error("API should report the run as active")
	}
	if status.PID != os.Getpid() {
		t.Errorf("expected PID %d, got %d", os.Getpid(), status.PID)
	}
	if status.Ops != 42 {
		t.Errorf("expected 42 ops, got %d", status.Ops)
	}
	if status.RunID != "run-1" {
		t.Errorf("expected run ID run-1, got %s", status.RunID)
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("failed to stop server: %v", err)
	}
	s.Wait()

	if _, err := os.Stat(cfg.PIDFile); !os.IsNotExist(err) {
		t.Error("PID file should be removed after stop")
	}
	if _, err := os.Stat(cfg.SocketPath); !os.IsNotExist(err) {
		t.Error("socket file should be removed after stop")
	}

	if err := s.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second stop should report ErrNotRunning, got %v", err)
	}
}

func TestServerSecondRunRejected(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first := New(cfg, nil)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	defer func() { _ = first.Stop(ctx) }()

	second := New(cfg, nil)
	if err := second.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second start should fail with ErrAlreadyRunning, got %v", err)
	}

	// The rejected run must not have disturbed the first one's files.
	if _, err := os.Stat(cfg.SocketPath); err != nil {
		t.Errorf("socket should still exist: %v", err)
	}
}

func TestStopEndpoint(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, nil)

	stopped := make(chan struct{})
	s.SetStopFunc(func() { close(stopped) })

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer func() {
		if err := s.Stop(ctx); err != nil {
			logger := slogutil.LoggerFromContext(ctx, slogutil.Null())
			logger.Error("failed to stop server", "error", err)
		}
	}()

	client := NewClient(cfg.SocketPath)
	if err := client.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	select {
	case <-stopped:
	default:
		t.Error("stop callback was not called")
	}
}

func TestStopEndpointMethodNotAllowed(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, nil)

	called := false
	s.SetStopFunc(func() { called = true })

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer func() { _ = s.Stop(ctx) }()

	client := NewClient(cfg.SocketPath)
	resp, err := client.httpClient.Get("http://unix/stop")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
	if called {
		t.Error("GET must not stop the run")
	}
}

func TestClientConnectionError(t *testing.T) {
	client := NewClient("/tmp/nonexistent-daemonstress-12345.sock")

	if _, err := client.GetStatus(); err == nil {
		t.Error("expected error connecting to non-existent socket")
	}
	if err := client.Stop(); err == nil {
		t.Error("expected error stopping through non-existent socket")
	}
}

func TestIsRunning(t *testing.T) {
	cfg := testConfig(t)

	running, _, err := IsRunning(cfg.PIDFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if running {
		t.Error("should not be running with no PID file")
	}

	// A PID file nobody holds the lock for is stale, even if the PID is live.
	if err := os.WriteFile(cfg.PIDFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o600); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}
	running, _, err = IsRunning(cfg.PIDFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if running {
		t.Error("unlocked PID file should be treated as stale")
	}
	if _, err := os.Stat(cfg.PIDFile); !os.IsNotExist(err) {
		t.Error("stale PID file should be removed")
	}

	// Hold the lock as a live run would.
	lock := flock.New(lockPath(cfg.PIDFile))
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("failed to take lock: %v", err)
	}
	defer lock.Unlock() //nolint:errcheck

	if err := os.WriteFile(cfg.PIDFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}
	running, pid, err := IsRunning(cfg.PIDFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !running {
		t.Error("locked PID file of a live process should be running")
	}
	if pid != os.Getpid() {
		t.Errorf("expected PID %d, got %d", os.Getpid(), pid)
	}

	if err := os.WriteFile(cfg.PIDFile, []byte("invalid"), 0o600); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}
	running, _, err = IsRunning(cfg.PIDFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if running {
		t.Error("should not be running with invalid PID")
	}
}

func TestStopByPIDNotRunning(t *testing.T) {
	cfg := testConfig(t)

	if _, err := StopByPID(cfg.PIDFile, 0); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}
