// Package control exposes a running stress run over a Unix socket and guards
// it with a PID file, so that other invocations can query or stop it.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/grokify/mogo/log/slogutil"
)

// Default paths for control files.
var (
	DefaultDir        = filepath.Join(os.Getenv("HOME"), ".daemonstress")
	DefaultPIDFile    = filepath.Join(DefaultDir, "daemonstress.pid")
	DefaultSocketPath = filepath.Join(DefaultDir, "daemonstress.sock")
)

var (
	// ErrAlreadyRunning is returned by Start when another run holds the PID file.
	ErrAlreadyRunning = errors.New("control: another run is active")
	// ErrNotRunning is returned when no run is active.
	ErrNotRunning = errors.New("control: no run is active")
)

// Status represents the state of a run as reported by /status.
type Status struct {
	Running    bool      `json:"running"`
	PID        int       `json:"pid,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	State      string    `json:"state,omitempty"`
	Ops        uint64    `json:"ops"`
	StartTime  time.Time `json:"start_time,omitempty"`
	Uptime     string    `json:"uptime,omitempty"`
	DaemonWait bool      `json:"daemon_wait"`
	Version    string    `json:"version,omitempty"`
}

// RunInfo is the live part of Status, supplied by the run.
type RunInfo struct {
	RunID      string
	State      string
	Ops        uint64
	DaemonWait bool
}

// Config holds control server configuration.
type Config struct {
	PIDFile    string
	SocketPath string
	Version    string
}

// DefaultConfig returns default control configuration.
func DefaultConfig() *Config {
	return &Config{
		PIDFile:    DefaultPIDFile,
		SocketPath: DefaultSocketPath,
	}
}

// Server serves the control API for one run.
type Server struct {
	config    *Config
	logger    *slog.Logger
	startTime time.Time
	server    *http.Server
	listener  net.Listener
	lock      *flock.Flock
	mu        sync.RWMutex
	stopCh    chan struct{}
	running   bool

	info   func() RunInfo
	onStop func()
}

// New creates a new control server.
func New(cfg *Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slogutil.Null()
	}
	return &Server{
		config: cfg,
		logger: logger.With("component", "control"),
		stopCh: make(chan struct{}),
	}
}

// SetRunInfo sets the function queried by /status.
func (s *Server) SetRunInfo(fn func() RunInfo) {
	s.info = fn
}

// SetStopFunc sets the function called by /stop. It should cancel the run
// and return promptly.
func (s *Server) SetStopFunc(fn func()) {
	s.onStop = fn
}

// Start takes the PID file lock, writes the PID file and starts serving on
// the socket.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("control server already running")
	}
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.config.PIDFile), 0o700); err != nil {
		return fmt.Errorf("failed to create control directory: %w", err)
	}

	lock := flock.New(lockPath(s.config.PIDFile))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock PID file: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	s.lock = lock

	if err := os.MkdirAll(filepath.Dir(s.config.SocketPath), 0o700); err != nil {
		s.cleanup()
		return fmt.Errorf("failed to create control directory: %w", err)
	}

	// The lock proves any existing socket is stale.
	_ = os.Remove(s.config.SocketPath)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "unix", s.config.SocketPath)
	if err != nil {
		s.cleanup()
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.config.SocketPath, 0o600); err != nil {
		listener.Close()
		s.cleanup()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	if err := os.WriteFile(s.config.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		listener.Close()
		s.cleanup()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/stop", s.handleStop)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control server error", "error", err)
		}
	}()

	s.logger.Debug("control server started", "socket", s.config.SocketPath, "pid_file", s.config.PIDFile)
	return nil
}

// Stop shuts down the control server and removes the PID file and socket.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.mu.Unlock()

	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("control server shutdown error", "error", err)
		}
	}

	s.cleanup()
	close(s.stopCh)
	return nil
}

// Wait blocks until the server stops.
func (s *Server) Wait() {
	<-s.stopCh
}

// Status returns the current run status.
func (s *Server) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &Status{
		Running: s.running,
		Version: s.config.Version,
	}
	if s.info != nil {
		info := s.info()
		status.RunID = info.RunID
		status.State = info.State
		status.Ops = info.Ops
		status.DaemonWait = info.DaemonWait
	}
	if s.running {
		status.PID = os.Getpid()
		status.StartTime = s.startTime
		status.Uptime = time.Since(s.startTime).Round(time.Second).String()
	}
	return status
}

func (s *Server) cleanup() {
	_ = os.Remove(s.config.PIDFile)
	_ = os.Remove(s.config.SocketPath)
	if s.lock != nil {
		_ = s.lock.Unlock()
		_ = os.Remove(s.lock.Path())
		s.lock = nil
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "stopping"}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.logger.Info("stop requested over control socket")
	if s.onStop != nil {
		s.onStop()
	}
}

// Client provides methods to talk to a running stressor.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// NewClient creates a new control client.
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	var dialer net.Dialer
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return dialer.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 5 * time.Second,
		},
	}
}

// GetStatus retrieves the run status.
func (c *Client) GetStatus() (*Status, error) {
	resp, err := c.httpClient.Get("http://unix/status")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to stressor: %w", err)
	}
	defer resp.Body.Close()

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}

	return &status, nil
}

// Stop asks the run to stop.
func (c *Client) Stop() error {
	resp, err := c.httpClient.Post("http://unix/stop", "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to stop stressor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("stop failed: %s", strings.TrimSpace(string(body)))
	}

	return nil
}

// IsRunning reports whether a live run holds pidFile. A PID file whose lock
// is free is stale and is removed.
func IsRunning(pidFile string) (bool, int, error) {
	if pidFile == "" {
		pidFile = DefaultPIDFile
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}

	lock := flock.New(lockPath(pidFile))
	locked, err := lock.TryLock()
	if err != nil {
		return false, 0, fmt.Errorf("failed to probe PID file lock: %w", err)
	}
	if locked {
		_ = lock.Unlock()
		_ = os.Remove(pidFile)
		_ = os.Remove(lock.Path())
		return false, 0, nil
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0, nil
	}
	if err := checkProcessAlive(process); err != nil {
		return false, 0, nil
	}

	return true, pid, nil
}

// StopByPID sends the termination signal to the run recorded in pidFile and
// waits up to timeout for it to exit.
func StopByPID(pidFile string, timeout time.Duration) (int, error) {
	if pidFile == "" {
		pidFile = DefaultPIDFile
	}

	running, pid, err := IsRunning(pidFile)
	if err != nil {
		return 0, err
	}
	if !running {
		return 0, ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, fmt.Errorf("failed to find process: %w", err)
	}
	if err := signalTerminate(process); err != nil {
		return pid, fmt.Errorf("failed to send signal: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if running, _, _ := IsRunning(pidFile); !running {
			return pid, nil
		}
	}

	return pid, fmt.Errorf("process %d did not stop in time", pid)
}

func lockPath(pidFile string) string {
	return pidFile + ".lock"
}
