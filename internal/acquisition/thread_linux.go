//go:build linux

package acquisition

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setThreadPriority applies a nice value to the calling OS thread only. The
// caller must hold the thread with runtime.LockOSThread.
func setThreadPriority(priority int) error {
	if priority == 0 {
		return nil
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), priority); err != nil {
		return fmt.Errorf("setpriority %d: %w", priority, err)
	}
	return nil
}
