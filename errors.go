package orchestration

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("orchestration: no store configured")
	ErrStoreClosed     = errors.New("orchestration: store closed")
	ErrMigrationFailed = errors.New("orchestration: migration failed")

	// Not found errors.
	ErrWorkflowNotFound = errors.New("orchestration: workflow not found")
	ErrRunNotFound      = errors.New("orchestration: run not found")
	ErrHookNotFound     = errors.New("orchestration: hook not found")
	ErrScheduleNotFound = errors.New("orchestration: schedule not found")
	ErrEventNotFound    = errors.New("orchestration: event not found")
	ErrWorkerNotFound   = errors.New("orchestration: worker not found")

	// Uniqueness errors.
	ErrRunAlreadyExists  = errors.New("orchestration: run already exists")
	ErrDuplicateSchedule = errors.New("orchestration: schedule name already registered")

	// Hook errors. ErrHookExpired is the timeout branch of an approval
	// race: a normal negative outcome the workflow body handles, not a
	// crash.
	ErrHookExpired    = errors.New("orchestration: hook expired")
	ErrHookResolved   = errors.New("orchestration: hook already resolved")
	ErrHookInsideStep = errors.New("orchestration: hook operation inside a step")

	// State errors.
	ErrInvalidState       = errors.New("orchestration: invalid state transition")
	ErrRunNotResumable    = errors.New("orchestration: run is not resumable")
	ErrMaxRetriesExceeded = errors.New("orchestration: max retries exceeded")

	// ErrSuspended is the control-flow sentinel a workflow handler returns
	// while it waits on a hook or a durable sleep. Handlers must propagate
	// it unchanged; the runner intercepts it and parks the run without a
	// goroutine.
	ErrSuspended = errors.New("orchestration: run suspended")

	// Cluster errors.
	ErrLeadershipLost = errors.New("orchestration: leadership lost")
	ErrNotLeader      = errors.New("orchestration: not the leader")
)

// FatalError marks an error as unrecoverable for the current run. The step
// executor propagates it immediately, without retrying, and the run ends
// with status failed.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	if e.Err == nil {
		return "fatal"
	}

	return "fatal: " + e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the step executor aborts the run instead of retrying.
// Use it for bad input, business-rule rejections, and anything a retry
// cannot fix.
func Fatal(err error) error {
	if err == nil {
		return nil
	}

	return &FatalError{Err: err}
}

// Fatalf is Fatal with fmt.Errorf formatting.
func Fatalf(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// RetryableError marks an error as transient. The step executor retries it
// up to the step's attempt limit. RetryAfter, when non-zero, is a
// caller-suggested delay (for example from a rate-limit response) that
// overrides the step's backoff strategy for the next attempt.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	if e.Err == nil {
		return "retryable"
	}

	return "retryable: " + e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as explicitly transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}

	return &RetryableError{Err: err}
}

// RetryableAfter wraps err as transient with a suggested delay before the
// next attempt.
func RetryableAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}

	return &RetryableError{Err: err, RetryAfter: after}
}

// IsFatal reports whether err is marked fatal.
func IsFatal(err error) bool {
	var fe *FatalError

	return errors.As(err, &fe)
}

// AsRetryable extracts the RetryableError from err's chain, if any.
func AsRetryable(err error) (*RetryableError, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re, true
	}

	return nil, false
}
