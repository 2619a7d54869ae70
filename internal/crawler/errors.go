package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a guarded write finds an unexpected status.
	ErrConflict = errors.New("status conflict")
	// ErrTaskNotPending is returned when execution is requested for a task that is not pending.
	ErrTaskNotPending = errors.New("task is not pending")
	// ErrTaskCancelled signals that a running task was cancelled externally.
	ErrTaskCancelled = errors.New("task cancelled")
	// ErrInvalidTask wraps task descriptor validation failures.
	ErrInvalidTask = errors.New("invalid task")
	// ErrQueueClosed is returned by queues that no longer hand out work.
	ErrQueueClosed = errors.New("queue closed")
)

// FetchError describes a failed fetch attempt. StatusCode is zero for transport errors.
type FetchError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}
