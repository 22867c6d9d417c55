//go:build linux

package privdrop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// drop sets no_new_privs and clears the effective, permitted and inheritable
// capability sets. Capability state is per thread; the stressor locks its
// role goroutine to one OS thread so the thread that forks is the one dropped.
func drop() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl no_new_privs: %w", err)
	}

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return fmt.Errorf("capget: %w", err)
	}
	if data[0].Effective == 0 && data[0].Permitted == 0 && data[0].Inheritable == 0 &&
		data[1].Effective == 0 && data[1].Permitted == 0 && data[1].Inheritable == 0 {
		return nil
	}

	data = [2]unix.CapUserData{}
	if err := unix.Capset(&hdr, &data[0]); err != nil {
		return fmt.Errorf("capset: %w", err)
	}
	return nil
}
