package reactor

import (
	"errors"
	"fmt"
)

// ProtocolViolation indicates a caller broke the Signal/Subscription
// handshake contract: requesting a non-positive amount, emitting after a
// terminal signal, or signalling from multiple goroutines concurrently
// without an upstream serialization guarantee.
type ProtocolViolation struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *ProtocolViolation) Error() string {
	if e.Message == "" {
		return "protocol violation"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *ProtocolViolation) Unwrap() error {
	return e.Cause
}

// UserError wraps a failure of a user-supplied callback (a mapper,
// predicate, or consumer handler), either a recovered panic or an error the
// callback returned (as with MapErr), so it can flow through the Signal
// protocol as a regular terminal error instead of crashing the emitting
// goroutine.
type UserError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *UserError) Error() string {
	if e.Message == "" {
		return "user callback error"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *UserError) Unwrap() error {
	return e.Cause
}

// OverflowError indicates a bounded queue could not accept an item and no
// recovery strategy (buffer/drop/latest) was configured, or a configured
// buffer's own bound was exceeded.
type OverflowError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *OverflowError) Error() string {
	if e.Message == "" {
		return "backpressure overflow"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *OverflowError) Unwrap() error {
	return e.Cause
}

// TimeoutError indicates an operator's time budget elapsed before the
// expected signal arrived (Timeout, per-window SampleTimeout, and so on).
type TimeoutError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "operation timed out"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// CompositeError aggregates multiple causes, produced by operators that can
// fail for more than one reason at once (RetryWhen/RepeatWhen exhausting
// their budget with a history of prior attempts, or a fan-in operator whose
// several upstreams all terminated in error).
type CompositeError struct {
	Errors []error
}

// Error implements the error interface.
func (e *CompositeError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "composite error (no causes)"
	case 1:
		return e.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors occurred, first: %s", len(e.Errors), e.Errors[0])
	}
}

// Unwrap returns the wrapped errors for multi-error unwrapping (Go 1.20+).
func (e *CompositeError) Unwrap() []error {
	return e.Errors
}

// Is reports whether target is a *CompositeError. It does not compare
// target with the wrapped causes itself; errors.Is reaches those through
// Unwrap.
func (e *CompositeError) Is(target error) bool {
	var composite *CompositeError
	return errors.As(target, &composite)
}

// WrapError wraps an error with a message, preserving it as the %w cause so
// that errors.Is(result, cause) reports true.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
