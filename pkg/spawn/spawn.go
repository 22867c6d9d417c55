// Package spawn creates processes by re-executing the running binary under a
// registered role name.
//
// Go cannot duplicate a running process without exec, so "forking" here means
// starting a fresh copy of the current executable whose argv[0] names the role
// it should play. The binary's main function calls Init before anything else;
// Init runs the matching role and exits, which is the child side of the fork.
// The parent side receives a Result from Spawner.Spawn.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

var _ Child = (*Process)(nil)

// Kind discriminates the outcome of a process duplication.
type Kind int

const (
	// KindParent means the process was created; Result.Process is the child.
	KindParent Kind = iota
	// KindChild names the other side of a duplication. Spawn never returns it:
	// the child runs the role entry point through Init and does not come back.
	KindChild
	// KindTransient means creation failed for lack of process slots or memory
	// and may succeed after a delay.
	KindTransient
	// KindFatal means creation failed and retrying will not help.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindParent:
		return "parent"
	case KindChild:
		return "child"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Child is a spawned process seen from its parent.
type Child interface {
	Pid() int
	// Wait reaps the child, interrupting it if ctx is cancelled first.
	Wait(ctx context.Context) error
	Signal(sig os.Signal) error
	// Release leaves the child to be reaped by init.
	Release() error
}

// Result is the outcome of Spawner.Spawn.
type Result struct {
	Kind    Kind
	Process Child
	Err     error
}

// Options describes the process to create.
type Options struct {
	// Args are passed after the role name.
	Args []string
	// Files are inherited as descriptors 3, 4, ... in the child.
	Files []*os.File
	// Env is the child's environment. Nil means an empty environment.
	Env []string
	// Stderr receives the child's standard error. Nil means /dev/null.
	Stderr io.Writer
}

// Spawner creates processes. Exec is the real implementation; tests supply
// fakes.
type Spawner interface {
	Spawn(ctx context.Context, role string, opts Options) Result
}

// Exec spawns roles by re-executing the current binary.
type Exec struct {
	// Path overrides the executable; empty means Self().
	Path string
	// StopSignal is sent to a child whose Wait is cancelled.
	StopSignal os.Signal
	// Grace bounds how long Wait lets a signalled child exit before killing it.
	Grace time.Duration
}

// DefaultGrace is how long a cancelled Wait gives a child to exit on its own.
const DefaultGrace = 5 * time.Second

// Spawn starts role as a new process.
func (e Exec) Spawn(ctx context.Context, role string, opts Options) Result {
	if err := ctx.Err(); err != nil {
		return Result{Kind: KindFatal, Err: err}
	}
	if !Registered(role) {
		return Result{Kind: KindFatal, Err: fmt.Errorf("%w: %s", ErrUnknownRole, role)}
	}

	path := e.Path
	if path == "" {
		path = Self()
	}

	env := opts.Env
	if env == nil {
		env = []string{}
	}

	cmd := &exec.Cmd{
		Path:       path,
		Args:       append([]string{role}, opts.Args...),
		Env:        env,
		ExtraFiles: opts.Files,
		Stderr:     opts.Stderr,
	}

	if err := cmd.Start(); err != nil {
		return Result{Kind: Classify(err), Err: fmt.Errorf("spawn %s: %w", role, err)}
	}

	stop := e.StopSignal
	if stop == nil {
		stop = syscall.SIGTERM
	}
	grace := e.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	return Result{
		Kind: KindParent,
		Process: &Process{
			cmd:   cmd,
			stop:  stop,
			grace: grace,
		},
	}
}

// IsTransient reports whether err is a process-creation failure caused by a
// temporary shortage of process slots or memory.
func IsTransient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOMEM)
}

// Classify maps a process-creation error to KindTransient or KindFatal.
func Classify(err error) Kind {
	if IsTransient(err) {
		return KindTransient
	}
	return KindFatal
}

// Process is the Child created by Exec.
type Process struct {
	cmd   *exec.Cmd
	stop  os.Signal
	grace time.Duration
}

// Pid returns the child's process ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait reaps the child. If ctx is cancelled first, the child is sent the stop
// signal, and killed if it has not exited after the grace period; Wait still
// returns only once the child has been reaped.
func (p *Process) Wait(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- p.cmd.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	_ = p.cmd.Process.Signal(p.stop)

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
	}

	_ = p.cmd.Process.Kill()
	return <-done
}

// Signal sends sig to the child.
func (p *Process) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// Release gives up the parent's interest in the child. The child is reaped by
// init once this process exits.
func (p *Process) Release() error {
	return p.cmd.Process.Release()
}
