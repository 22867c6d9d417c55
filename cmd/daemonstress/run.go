package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/grokify/mogo/log/slogutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/grokify/daemonstress/pkg/config"
	"github.com/grokify/daemonstress/pkg/control"
	"github.com/grokify/daemonstress/pkg/logging"
	"github.com/grokify/daemonstress/pkg/observability"
	"github.com/grokify/daemonstress/pkg/runstate"
	"github.com/grokify/daemonstress/pkg/stressor"
)

type runOptions struct {
	configPath string

	daemonWait bool
	ops        uint64
	timeout    time.Duration

	metrics     bool
	metricsPort int

	control    bool
	pidFile    string
	socketPath string

	logLevel string
	logJSON  bool
	logFile  string

	jsonOutput bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon stressor",
		Long: `Run the daemon stressor until it is stopped.

A run stops after --ops daemons, after --timeout, on SIGINT/SIGTERM/SIGALRM,
or when "daemonstress stop" is issued. Flags override values from the
configuration file.

Examples:
  # Create 10000 daemons, leaving each to init
  daemonstress run --ops 10000

  # Reap every daemon, stop after a minute, expose metrics
  daemonstress run --daemon-wait --timeout 1m --metrics --metrics-port 9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Flags(), opts)
		},
	}

	opts.bindFlags(cmd.Flags())

	return cmd
}

func (o *runOptions) bindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "", "Config file (default: ~/.daemonstress/config.yaml)")

	fs.BoolVar(&o.daemonWait, "daemon-wait", false, "Reap each daemon instead of leaving it to init")
	fs.Uint64Var(&o.ops, "ops", 0, "Stop after this many daemons (0 = unlimited)")
	fs.DurationVarP(&o.timeout, "timeout", "t", 0, "Stop after this long (0 = unlimited)")

	fs.BoolVar(&o.metrics, "metrics", false, "Serve Prometheus metrics and health endpoints")
	fs.IntVar(&o.metricsPort, "metrics-port", 9090, "Port for metrics/health endpoints")

	fs.BoolVar(&o.control, "control", true, "Serve the control socket and write the PID file")
	fs.StringVar(&o.pidFile, "pid-file", control.DefaultPIDFile, "PID file path")
	fs.StringVar(&o.socketPath, "socket", control.DefaultSocketPath, "Unix socket path")

	fs.StringVar(&o.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.BoolVar(&o.logJSON, "log-json", false, "Log as JSON")
	fs.StringVar(&o.logFile, "log-file", "", "Append logs here, including from detached processes")

	fs.BoolVar(&o.jsonOutput, "json", false, "Print the result as JSON")
}

// loadRunConfig reads the config file and applies any flags that were set.
func loadRunConfig(flags *pflag.FlagSet, opts *runOptions) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	var cfg *config.Config
	var err error
	if flags.Changed("config") {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOrDefault(path)
	}
	if err != nil {
		return nil, err
	}

	if flags.Changed("daemon-wait") {
		cfg.Stressor.DaemonWait = opts.daemonWait
	}
	if flags.Changed("ops") {
		cfg.Stressor.Ops = opts.ops
	}
	if flags.Changed("timeout") {
		cfg.Stressor.Timeout = opts.timeout
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Enabled = opts.metrics
	}
	if flags.Changed("metrics-port") {
		cfg.Metrics.Port = opts.metricsPort
		cfg.Metrics.Enabled = true
	}
	if flags.Changed("control") {
		cfg.Control.Enabled = opts.control
	}
	if flags.Changed("pid-file") || cfg.Control.PIDFile == "" {
		cfg.Control.PIDFile = opts.pidFile
	}
	if flags.Changed("socket") || cfg.Control.Socket == "" {
		cfg.Control.Socket = opts.socketPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = opts.logJSON
	}
	if flags.Changed("log-file") {
		cfg.Log.File = opts.logFile
	}

	if cfg.Log.File != "" {
		// Daemons run from "/", so a relative path would move.
		abs, err := filepath.Abs(cfg.Log.File)
		if err != nil {
			return nil, fmt.Errorf("log file path: %w", err)
		}
		cfg.Log.File = abs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runRun(flags *pflag.FlagSet, opts *runOptions) error {
	cfg, err := loadRunConfig(flags, opts)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog() //nolint:errcheck

	ctx, stopSignals := runstate.WithStopSignals(context.Background())
	defer stopSignals()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx = slogutil.ContextWithLogger(ctx, logger)

	orch := stressor.NewOrchestrator(cfg.RunConfig())

	// Setup observability
	if cfg.Metrics.Enabled {
		obs, err := observability.NewProvider(&observability.Config{
			ServiceName:      "daemonstress",
			EnablePrometheus: true,
		})
		if err != nil {
			return fmt.Errorf("failed to setup observability: %w", err)
		}
		defer func() {
			if err := obs.Shutdown(context.Background()); err != nil {
				logger.Warn("observability shutdown error", "error", err)
			}
		}()
		orch.Metrics = obs.Metrics

		health := observability.NewHealthChecker(func() bool {
			return orch.State.Get() == runstate.StateRun
		})
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		srv := observability.NewServer(addr, observability.NewHealthMux(health, obs))
		go func() {
			logger.Info("metrics/health server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Setup control socket
	if cfg.Control.Enabled {
		ctl := control.New(&control.Config{
			PIDFile:    cfg.Control.PIDFile,
			SocketPath: cfg.Control.Socket,
			Version:    version,
		}, logger)
		ctl.SetRunInfo(func() control.RunInfo {
			return control.RunInfo{
				RunID:      orch.RunID,
				State:      orch.State.Get().String(),
				Ops:        orch.Counter.Load(),
				DaemonWait: orch.Config.DaemonWait,
			}
		})
		ctl.SetStopFunc(cancel)
		if err := ctl.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control server: %w", err)
		}
		defer func() {
			if err := ctl.Stop(context.Background()); err != nil {
				logger.Warn("control server stop error", "error", err)
			}
		}()
	}

	res, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	return printResult(res, opts.jsonOutput)
}

type resultOutput struct {
	RunID   string  `json:"run_id"`
	Ops     uint64  `json:"ops"`
	Elapsed string  `json:"elapsed"`
	Rate    float64 `json:"ops_per_sec"`
	End     string  `json:"end"`
}

func printResult(res *stressor.Result, jsonOutput bool) error {
	out := resultOutput{
		RunID:   res.RunID,
		Ops:     res.Ops,
		Elapsed: res.Elapsed.Round(time.Millisecond).String(),
		Rate:    res.Rate(),
		End:     string(res.End),
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Run %s\n", out.RunID)
	fmt.Printf("  Daemons:  %d\n", out.Ops)
	fmt.Printf("  Elapsed:  %s\n", out.Elapsed)
	fmt.Printf("  Rate:     %.2f daemons/sec\n", out.Rate)
	fmt.Printf("  Ended:    %s\n", out.End)
	return nil
}
