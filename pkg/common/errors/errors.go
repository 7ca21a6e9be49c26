package errors

import (
	"errors"
	"fmt"
)

// Common error types used across the multiproc library

var (
	// ErrClosed is returned when work is submitted to a pool after Close or Terminate.
	ErrClosed = errors.New("pool has been closed")

	// ErrTerminated fails every job still registered when a pool is terminated.
	ErrTerminated = errors.New("pool was closed")

	// ErrTimeout indicates that a worker did not report a result within the job timeout
	ErrTimeout = errors.New("task timed out")

	// ErrInvalidWork indicates that a work descriptor names neither a module nor a function
	ErrInvalidWork = errors.New("work must reference a module path or a registered function")

	// ErrWorkerExited indicates that a worker process died while running a chunk
	ErrWorkerExited = errors.New("worker process exited unexpectedly")

	// ErrAlreadyDefined is returned by Define when the name is taken
	ErrAlreadyDefined = errors.New("name already defined on pool")

	// ErrCapacityExceeded indicates that a capacity limit was exceeded
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrInvalidConfiguration indicates invalid configuration parameters
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrRateLimited indicates that admission was refused by a throttle
	ErrRateLimited = errors.New("rate limited")
)

// ValidationError describes a rejected configuration value.
type ValidationError struct {
	Module string
	Field  string
	Value  interface{}
	Reason string
	Hint   string
}

// NewValidationError creates a ValidationError without a hint.
func NewValidationError(module, field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{
		Module: module,
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// WithHint attaches a remediation hint and returns the same error.
func (e *ValidationError) WithHint(hint string) *ValidationError {
	e.Hint = hint
	return e
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s=%v (%s)", e.Module, e.Field, e.Value, e.Reason)
	if e.Hint != "" {
		msg += " - " + e.Hint
	}
	return msg
}

// Unwrap lets errors.Is match ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// WorkerError carries a failure raised by a handler inside a worker process.
// Stack is set when the handler panicked.
type WorkerError struct {
	Message string
	Stack   string
}

func (e *WorkerError) Error() string {
	return e.Message
}

// IsRetryable returns true if the error indicates a condition that might
// be resolved by resubmitting the job
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrWorkerExited)
}

// IsTemporary returns true if the error indicates a temporary condition
func IsTemporary(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrCapacityExceeded)
}
