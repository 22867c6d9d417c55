// Package privdrop gives up elevated privileges on a best-effort basis.
package privdrop

import (
	"log/slog"

	"github.com/grokify/mogo/log/slogutil"
)

// Dropper drops whatever privileges the calling process holds.
type Dropper interface {
	Drop() error
}

// DropperFunc adapts a function to Dropper.
type DropperFunc func() error

// Drop calls f.
func (f DropperFunc) Drop() error { return f() }

// Capabilities drops Linux capabilities and sets no_new_privs. Failures are
// logged and returned; callers treat them as advisory.
type Capabilities struct {
	Logger *slog.Logger
}

// New returns the platform's Dropper.
func New(logger *slog.Logger) *Capabilities {
	if logger == nil {
		logger = slogutil.Null()
	}
	return &Capabilities{Logger: logger.With("component", "privdrop")}
}

// Drop gives up capabilities.
func (c *Capabilities) Drop() error {
	if err := drop(); err != nil {
		c.Logger.Debug("drop privileges failed", "error", err)
		return err
	}
	return nil
}
