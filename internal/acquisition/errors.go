package acquisition

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("acquisition task already started")
	// ErrNotStarted is returned by Join on a task that never started.
	ErrNotStarted = errors.New("acquisition task not started")
	// ErrLinkUnrecoverable ends a task whose escalation policy fired.
	ErrLinkUnrecoverable = errors.New("link unrecoverable")
)

// WorkerCreationError reports that the worker's execution context could not
// be set up. The task stays NotStarted.
type WorkerCreationError struct {
	Err error
}

func (e *WorkerCreationError) Error() string {
	return fmt.Sprintf("create acquisition worker: %v", e.Err)
}

func (e *WorkerCreationError) Unwrap() error { return e.Err }
