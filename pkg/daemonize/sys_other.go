//go:build !linux

package daemonize

func platformSys() sys {
	unsupported := func() error { return ErrUnsupported }
	return sys{
		setsid:       unsupported,
		close:        func(int) error { return ErrUnsupported },
		resetSignals: func() {},
		clearMask:    unsupported,
		clearEnv:     unsupported,
		open:         func(string) (int, error) { return -1, ErrUnsupported },
		dup2:         func(int, int) error { return ErrUnsupported },
		chdir:        func(string) error { return ErrUnsupported },
		umask:        func(int) int { return 0 },
	}
}
