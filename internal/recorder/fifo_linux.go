//go:build linux

package recorder

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func makeFIFO(path string) error {
	err := unix.Mkfifo(path, 0o644)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EEXIST) {
		return err
	}
	fi, statErr := os.Stat(path)
	if statErr != nil {
		return statErr
	}
	if fi.Mode()&os.ModeNamedPipe == 0 {
		return fmt.Errorf("%s exists and is not a named pipe", path)
	}
	return nil
}

// openFIFO opens path for writing once a reader has it open. A non-blocking
// open fails with ENXIO while there is no reader, so it is retried until
// closing is closed.
func openFIFO(path string, closing <-chan struct{}) (*os.File, error) {
	for {
		fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err == nil {
			if err := unix.SetNonblock(fd, false); err != nil {
				unix.Close(fd)
				return nil, fmt.Errorf("set blocking mode on %s: %w", path, err)
			}
			return os.NewFile(uintptr(fd), path), nil
		}
		if !errors.Is(err, unix.ENXIO) {
			return nil, &os.PathError{Op: "open", Path: path, Err: err}
		}
		select {
		case <-closing:
			return nil, ErrNoReader
		case <-time.After(fifoPoll):
		}
	}
}
