//go:build !linux

package acquisition

import "fmt"

func setThreadPriority(priority int) error {
	if priority == 0 {
		return nil
	}
	return fmt.Errorf("thread priority %d not supported on this platform", priority)
}
