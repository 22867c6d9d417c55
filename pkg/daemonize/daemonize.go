// Package daemonize implements the ordered sequence of steps a process
// performs to detach itself into a session-leading background process with no
// inherited terminal, descriptors, environment, or signal handlers.
//
// The steps split into two phases. Detach (steps 1-6) makes the process a
// session leader with harmless standard streams and default signal state.
// Finish (steps 7-10) moves to the filesystem root, clears the umask, drops
// privileges and writes the one-byte completion sentinel to the notification
// channel. Run performs both phases in order.
package daemonize

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/daemonstress/pkg/privdrop"
)

// Sentinel is the single byte written per successfully daemonized process.
const Sentinel byte = 0xff

// NullDevice is opened onto the standard descriptors.
const NullDevice = "/dev/null"

var (
	// ErrFatal marks a failure that ends the whole coordinator.
	ErrFatal = errors.New("daemonize: fatal setup failure")
	// ErrAttempt marks a failure that abandons only the current attempt.
	ErrAttempt = errors.New("daemonize: attempt aborted")
	// ErrUnsupported is returned on platforms without the required primitives.
	ErrUnsupported = errors.New("daemonize: unsupported platform")
)

// Step names, in protocol order.
const (
	StepSetsid       = "setsid"
	StepCloseStdio   = "close-stdio"
	StepResetSignals = "reset-signals"
	StepClearMask    = "clear-sigmask"
	StepClearEnv     = "clear-env"
	StepNullStdio    = "null-stdio"
	StepChdir        = "chdir"
	StepUmask        = "umask"
	StepDropPrivs    = "drop-privileges"
	StepNotify       = "notify"
)

// Steps lists every step in the order Run performs them.
var Steps = []string{
	StepSetsid,
	StepCloseStdio,
	StepResetSignals,
	StepClearMask,
	StepClearEnv,
	StepNullStdio,
	StepChdir,
	StepUmask,
	StepDropPrivs,
	StepNotify,
}

// StepError reports which step failed. It matches ErrFatal or ErrAttempt
// under errors.Is depending on the step.
type StepError struct {
	Step  string
	Err   error
	fatal bool
}

func (e *StepError) Error() string {
	return fmt.Sprintf("daemonize %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Is reports whether target is the class this failure belongs to.
func (e *StepError) Is(target error) bool {
	if e.fatal {
		return target == ErrFatal
	}
	return target == ErrAttempt
}

func fatal(step string, err error) error {
	return &StepError{Step: step, Err: err, fatal: true}
}

func attempt(step string, err error) error {
	return &StepError{Step: step, Err: err}
}

// sys is the set of primitives the protocol calls. Tests swap in fakes.
type sys struct {
	setsid       func() error
	close        func(fd int) error
	resetSignals func()
	clearMask    func() error
	clearEnv     func() error
	open         func(path string) (int, error)
	dup2         func(oldfd, newfd int) error
	chdir        func(dir string) error
	umask        func(mask int) int
}

// Protocol runs the daemonization steps for the current process.
type Protocol struct {
	// Notify is the write end of the notification channel.
	Notify io.Writer
	// Dropper gives up privileges in step 9. Nil skips the step.
	Dropper privdrop.Dropper
	// Logger receives per-step diagnostics.
	Logger *slog.Logger

	sys sys
}

// New returns a Protocol using the platform's primitives.
func New(notify io.Writer, dropper privdrop.Dropper, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slogutil.Null()
	}
	return &Protocol{
		Notify:  notify,
		Dropper: dropper,
		Logger:  logger.With("component", "daemonize"),
		sys:     platformSys(),
	}
}

// Run performs all ten steps in order.
func (p *Protocol) Run() error {
	if err := p.Detach(); err != nil {
		return err
	}
	return p.Finish()
}

// Detach performs steps 1-6. A setsid failure is fatal; a failure to install
// the null device on the standard descriptors aborts the attempt.
func (p *Protocol) Detach() error {
	if err := p.sys.setsid(); err != nil {
		return fatal(StepSetsid, err)
	}

	for fd := 0; fd <= 2; fd++ {
		_ = p.sys.close(fd)
	}

	p.sys.resetSignals()

	if err := p.sys.clearMask(); err != nil {
		p.Logger.Debug("clear signal mask failed", "error", err)
	}

	if err := p.sys.clearEnv(); err != nil {
		p.Logger.Debug("clear environment failed", "error", err)
	}

	return p.nullStdio()
}

// nullStdio opens the null device and duplicates it onto 0, 1 and 2. On any
// failure every descriptor it opened is closed again.
func (p *Protocol) nullStdio() error {
	fd, err := p.sys.open(NullDevice)
	if err != nil {
		return attempt(StepNullStdio, err)
	}

	opened := []int{fd}
	for target := 0; target <= 2; target++ {
		if target == fd {
			continue
		}
		if err := p.sys.dup2(fd, target); err != nil {
			for i := len(opened) - 1; i >= 0; i-- {
				_ = p.sys.close(opened[i])
			}
			return attempt(StepNullStdio, fmt.Errorf("dup onto %d: %w", target, err))
		}
		opened = append(opened, target)
	}

	if fd > 2 {
		_ = p.sys.close(fd)
	}
	return nil
}

// Finish performs steps 7-10. Every failure here aborts the attempt; a failed
// privilege drop is only logged.
func (p *Protocol) Finish() error {
	if err := p.sys.chdir("/"); err != nil {
		return attempt(StepChdir, err)
	}

	p.sys.umask(0)

	if p.Dropper != nil {
		if err := p.Dropper.Drop(); err != nil {
			p.Logger.Debug("privilege drop failed, continuing", "error", err)
		}
	}

	if p.Notify == nil {
		return attempt(StepNotify, errors.New("no notification channel"))
	}
	n, err := p.Notify.Write([]byte{Sentinel})
	if err != nil {
		return attempt(StepNotify, err)
	}
	if n != 1 {
		return attempt(StepNotify, io.ErrShortWrite)
	}
	return nil
}
