package protocol

import (
	"errors"
	"fmt"
	"time"
)

// InitializationError means the worker's interpreter failed to start.
// It is fatal to that worker instance until an explicit restart and is
// surfaced to the user exactly once.
type InitializationError struct {
	Reason string
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("runtime initialization failed: %s", e.Reason)
}

// ExecutionError means user code raised or the interpreter signaled an
// error. Recovered per-command; the session returns to idle.
type ExecutionError struct {
	Output string
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %s", e.Reason)
}

// TimeoutError means no response arrived within the command's deadline.
// The worker's eventual state for that command is unknown.
type TimeoutError struct {
	CommandID string
	Deadline  time.Time
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %s timed out (deadline %s)", e.CommandID, e.Deadline.Format(time.RFC3339))
}

// InterruptedError means the session-wide interrupt cleared the pending
// set; it is applied uniformly to every outstanding command.
type InterruptedError struct {
	CommandID string
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("command %s interrupted", e.CommandID)
}

// ErrNotInitialized is returned by execute when initialization failed
// or has not happened yet.
var ErrNotInitialized = errors.New("runtime not initialized")

// ErrChannelClosed is returned for commands issued on (or outstanding
// over) a channel whose transport has gone away.
var ErrChannelClosed = errors.New("worker channel closed")

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsInterrupted reports whether err is (or wraps) an InterruptedError.
func IsInterrupted(err error) bool {
	var ie *InterruptedError
	return errors.As(err, &ie)
}
