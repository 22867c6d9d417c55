package spawn

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// ErrUnknownRole is returned when spawning a role that was never registered.
var ErrUnknownRole = errors.New("spawn: unknown role")

var (
	rolesMu sync.RWMutex
	roles   = map[string]func(){}
)

// Register associates a role name with the function that runs when the binary
// is started under that name. It panics on duplicate registration, so it is
// meant to be called from init functions.
func Register(name string, fn func()) {
	rolesMu.Lock()
	defer rolesMu.Unlock()

	if _, exists := roles[name]; exists {
		panic(fmt.Sprintf("spawn: role %q registered twice", name))
	}
	roles[name] = fn
}

// Registered reports whether name is a known role.
func Registered(name string) bool {
	rolesMu.RLock()
	defer rolesMu.RUnlock()
	_, ok := roles[name]
	return ok
}

// Init runs the role named by argv[0], if any, and reports whether it did.
// Callers return from main when Init returns true; role functions normally
// exit the process themselves.
func Init() bool {
	rolesMu.RLock()
	fn, ok := roles[filepath.Base(os.Args[0])]
	rolesMu.RUnlock()

	if !ok {
		return false
	}
	fn()
	return true
}

// Self returns the path used to re-execute the current binary.
func Self() string {
	if runtime.GOOS == "linux" {
		return "/proc/self/exe"
	}
	if path, err := os.Executable(); err == nil {
		return path
	}
	return os.Args[0]
}
