//go:build linux

package daemonize

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

func platformSys() sys {
	return sys{
		setsid: func() error {
			_, err := unix.Setsid()
			return err
		},
		close: unix.Close,
		// exec already restored every caught signal to its default, and
		// nothing in a freshly spawned role has called signal.Notify, so this
		// undoes only handlers registered earlier in the same process.
		// Dispositions inherited as SIG_IGN across exec stay ignored; only
		// raw sigaction could change them, and that would clobber the
		// runtime's own handlers.
		resetSignals: func() { signal.Reset() },
		// The mask is per thread. Callers lock the OS thread so that the
		// thread which later forks is the one cleared here.
		clearMask: func() error {
			var empty unix.Sigset_t
			return unix.PthreadSigmask(unix.SIG_SETMASK, &empty, nil)
		},
		clearEnv: func() error {
			os.Clearenv()
			return nil
		},
		open: func(path string) (int, error) {
			return unix.Open(path, unix.O_RDWR, 0)
		},
		dup2: func(oldfd, newfd int) error {
			return unix.Dup3(oldfd, newfd, 0)
		},
		chdir: unix.Chdir,
		umask: unix.Umask,
	}
}
