//go:build unix

package local

import (
	"errors"
	"fmt"

	"github.com/danmuck/injectctl/internal/device"
	"golang.org/x/sys/unix"
)

// probeSignal sends signal 0 to pid. EPERM means the process exists but
// belongs to another user, which the helper cannot attach to either.
func probeSignal(pid uint32) error {
	err := unix.Kill(int(pid), 0)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ESRCH):
		return fmt.Errorf("%w: pid=%d", device.ErrProcessNotFound, pid)
	case errors.Is(err, unix.EPERM):
		if unix.Geteuid() == 0 {
			return nil
		}
		return fmt.Errorf("%w: pid=%d", device.ErrPermissionDenied, pid)
	default:
		return err
	}
}
