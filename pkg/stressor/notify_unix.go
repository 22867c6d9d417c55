//go:build unix

package stressor

import "golang.org/x/sys/unix"

// checkFD reports whether fd is an open descriptor in this process.
func checkFD(fd int) error {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err
}
