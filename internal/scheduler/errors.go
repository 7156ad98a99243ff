package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by Manager accessors before Initialize or after ShutdownAll.
	ErrNotInitialized = errors.New("scheduler: not initialized")
	// ErrClosed is the outcome of work submitted to, or still queued on, a closed scheduler.
	ErrClosed = errors.New("scheduler: closed")
	// ErrCancelled is the outcome of a task cancelled before it started.
	ErrCancelled = errors.New("scheduler: task cancelled")
	// ErrUnknownScheduler is returned when a named scheduler does not exist.
	ErrUnknownScheduler = errors.New("scheduler: unknown scheduler")
	// ErrDuplicateScheduler is returned when a name is already registered.
	ErrDuplicateScheduler = errors.New("scheduler: name already registered")
)

// PanicError carries a panic recovered from a work function.
type PanicError struct {
	TaskID string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("task %s panicked: %v", e.TaskID, e.Value) }

// Unwrap exposes the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsPanic reports whether err came from a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
