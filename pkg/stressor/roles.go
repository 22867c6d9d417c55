package stressor

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime"
	"strconv"

	"github.com/grokify/mogo/log/slogutil"
	"github.com/spf13/pflag"

	"github.com/grokify/daemonstress/pkg/daemonize"
	"github.com/grokify/daemonstress/pkg/logging"
	"github.com/grokify/daemonstress/pkg/privdrop"
	"github.com/grokify/daemonstress/pkg/runstate"
	"github.com/grokify/daemonstress/pkg/spawn"
)

func init() {
	spawn.Register(RoleCoordinator, func() {
		os.Exit(roleMain(os.Args[1:], false))
	})
	spawn.Register(RoleDaemon, func() {
		os.Exit(roleMain(os.Args[1:], true))
	})
}

// Role flag names. Only what a detached process needs crosses the exec
// boundary; stop conditions stay with the Orchestrator.
const (
	flagDaemonWait  = "daemon-wait"
	flagBackoffBase = "backoff-base"
	flagBackoffStep = "backoff-step"
	flagBackoffMax  = "backoff-max"
	flagLogFile     = "log-file"
	flagLogLevel    = "log-level"
	flagLogJSON     = "log-json"
)

func roleFlags(cfg *RunConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet("daemonstress-role", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&cfg.DaemonWait, flagDaemonWait, cfg.DaemonWait, "reap each daemon instead of leaving it to init")
	fs.DurationVar(&cfg.Backoff.Base, flagBackoffBase, cfg.Backoff.Base, "first retry delay")
	fs.DurationVar(&cfg.Backoff.Step, flagBackoffStep, cfg.Backoff.Step, "retry delay increment")
	fs.DurationVar(&cfg.Backoff.Max, flagBackoffMax, cfg.Backoff.Max, "retry delay ceiling")
	fs.StringVar(&cfg.LogFile, flagLogFile, cfg.LogFile, "log file")
	fs.StringVar(&cfg.LogLevel, flagLogLevel, cfg.LogLevel, "log level")
	fs.BoolVar(&cfg.LogJSON, flagLogJSON, cfg.LogJSON, "log as JSON")
	return fs
}

// encodeArgs renders the settings a spawned role needs as command-line flags.
func encodeArgs(cfg RunConfig) []string {
	args := []string{
		"--" + flagDaemonWait + "=" + strconv.FormatBool(cfg.DaemonWait),
		"--" + flagBackoffBase + "=" + cfg.Backoff.Base.String(),
		"--" + flagBackoffStep + "=" + cfg.Backoff.Step.String(),
		"--" + flagBackoffMax + "=" + cfg.Backoff.Max.String(),
		"--" + flagLogJSON + "=" + strconv.FormatBool(cfg.LogJSON),
	}
	if cfg.LogFile != "" {
		args = append(args, "--"+flagLogFile+"="+cfg.LogFile)
	}
	if cfg.LogLevel != "" {
		args = append(args, "--"+flagLogLevel+"="+cfg.LogLevel)
	}
	return args
}

// decodeArgs is the inverse of encodeArgs.
func decodeArgs(args []string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	if err := roleFlags(&cfg).Parse(args); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// roleMain runs inside a freshly spawned Coordinator (full=false) or daemon
// (full=true). A daemon performs the whole protocol including the
// notification; the first Coordinator only detaches. Both then generate the
// next daemon.
func roleMain(args []string, full bool) int {
	// Signal mask and capabilities are per thread.
	runtime.LockOSThread()

	cfg, err := decodeArgs(args)
	if err != nil {
		return 1
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level: cfg.LogLevel,
		JSON:  cfg.LogJSON,
		File:  cfg.LogFile,
	}, nil)
	if err != nil {
		logger = slogutil.Null()
		closeLog = func() error { return nil }
	}
	defer closeLog() //nolint:errcheck

	role := RoleCoordinator
	if full {
		role = RoleDaemon
	}
	logger = logger.With("role", role, "pid", os.Getpid())

	if err := checkFD(notifyFD); err != nil {
		logger.Error("notification channel missing", "error", err)
		return 1
	}
	notify := os.NewFile(notifyFD, "notify")

	proto := daemonize.New(notify, privdrop.New(logger), logger)
	if full {
		err = proto.Run()
	} else {
		err = proto.Detach()
	}
	if err != nil {
		if errors.Is(err, daemonize.ErrFatal) {
			logger.Error("daemonize", "error", err)
			return 1
		}
		// The channel is closed or the attempt was abandoned; the chain ends
		// here.
		logger.Debug("daemonize attempt ended", "error", err)
		return 0
	}

	// Registered after the protocol, which resets every handler.
	ctx, stop := runstate.WithStopSignals(context.Background())
	defer stop()
	ctx = slogutil.ContextWithLogger(ctx, logger)

	c := &Coordinator{
		Config:  cfg,
		Spawner: spawn.Exec{StopSignal: runstate.ChildStopSignal},
		Notify:  notify,
	}
	if err := c.Run(ctx); err != nil {
		logger.Error("coordinator", "error", err)
		return 1
	}
	return 0
}
