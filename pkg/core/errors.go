package core

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors
var (
	ErrInvalidTypeName = errors.New("delayed: invalid type name (must be alphanumeric, start with letter)")
	ErrTypeNameTooLong = errors.New("delayed: type name too long")
	ErrPayloadTooLarge = errors.New("delayed: encoded payload exceeds size limit")
)

// Lifecycle errors
var (
	// ErrLock means another worker holds a live lock on the job.
	ErrLock = errors.New("delayed: attempted to acquire exclusive lock failed")

	// ErrJobNotOwned means a settlement write found the row owned by someone else.
	ErrJobNotOwned = errors.New("delayed: job not owned by this worker")

	// ErrEntityNotFound is returned by entity finders when the referenced
	// record no longer exists.
	ErrEntityNotFound = errors.New("delayed: referenced entity not found")
)

// LockError reports a lost claim race for one job.
type LockError struct {
	JobID  string
	Worker string
}

func (e *LockError) Error() string {
	return fmt.Sprintf("%v: job %s by %s", ErrLock, e.JobID, e.Worker)
}

func (e *LockError) Unwrap() error { return ErrLock }

// ArgumentError is returned synchronously when a descriptor cannot be
// enqueued. No job is created.
type ArgumentError struct {
	Reason string
}

func (e *ArgumentError) Error() string {
	return "delayed: invalid argument: " + e.Reason
}

// DeserializationError means a stored payload could not be turned back into
// something runnable. It is retried like any other failure.
type DeserializationError struct {
	Tag string
	Err error
}

func (e *DeserializationError) Error() string {
	msg := "delayed: job failed to load"
	if e.Tag != "" {
		msg += " (" + e.Tag + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg + ". Register the type or install a resolver for it."
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// PanicError carries a recovered panic and the stack at the point of recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Trace returns the recorded stack.
func (e *PanicError) Trace() string { return string(e.Stack) }

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError indicates an error that should be retried after a delay
// instead of the backoff schedule.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}
