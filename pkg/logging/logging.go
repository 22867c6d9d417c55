// Package logging builds the slog loggers used by the CLI and by the detached
// role processes.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options selects the handler, level and destination.
type Options struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string `yaml:"level"`
	// JSON selects the JSON handler instead of the text handler.
	JSON bool `yaml:"json"`
	// File, if set, is appended to instead of writing to the fallback writer.
	// Detached processes have /dev/null as stderr, so this is the only way to
	// see their output.
	File string `yaml:"file,omitempty"`
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New returns a logger writing to opts.File, or to w when no file is set. The
// returned close func releases the file and is never nil.
func New(opts Options, w io.Writer) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() error { return nil }
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = f.Close
	}
	if w == nil {
		w = io.Discard
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return slog.New(handler), closeFn, nil
}

// Component returns logger tagged with a component attribute.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}
