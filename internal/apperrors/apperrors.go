// Package apperrors defines the error taxonomy shared across Sentinel's
// engines: validation, capacity, backend-transient, backend-fatal, policy,
// and internal. Each class carries enough structure for a caller to render
// a human-readable message plus actionable suggestions without inspecting
// the underlying cause.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Class identifies which error taxonomy bucket an error belongs to.
type Class string

const (
	ClassValidation Class = "validation"
	ClassCapacity   Class = "capacity"
	ClassTransient  Class = "backend_transient"
	ClassFatal      Class = "backend_fatal"
	ClassPolicy     Class = "policy"
	ClassInternal   Class = "internal"
)

// Error is the common shape returned to callers across all engines.
type Error struct {
	Class       Class
	Message     string
	Suggestions []string
	RetryAfter  time.Duration // meaningful for ClassCapacity
	CorrelationID string      // set for ClassInternal so logs can be cross-referenced
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is allows errors.Is(err, apperrors.ErrBackendFatal) style class checks.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Class == t.Class
	}
	return false
}

func newf(class Class, format string, args ...any) *Error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...)}
}

// Validation wraps a malformed-input error (bad LQL, bad rule condition, unknown column).
func Validation(format string, args ...any) *Error {
	return newf(ClassValidation, format, args...)
}

// Capacity wraps an admission/rate-limit/buffer-full rejection with a retry hint.
func Capacity(retryAfter time.Duration, format string, args ...any) *Error {
	e := newf(ClassCapacity, format, args...)
	e.RetryAfter = retryAfter
	return e
}

// Transient wraps a retryable backend failure (store unavailable, timeout).
func Transient(cause error, format string, args ...any) *Error {
	e := newf(ClassTransient, format, args...)
	e.cause = cause
	return e
}

// Fatal wraps a non-retryable backend failure (schema mismatch, auth failure).
func Fatal(cause error, format string, args ...any) *Error {
	e := newf(ClassFatal, format, args...)
	e.cause = cause
	return e
}

// Policy wraps a complexity/privacy violation. Never retried.
func Policy(suggestions []string, format string, args ...any) *Error {
	e := newf(ClassPolicy, format, args...)
	e.Suggestions = suggestions
	return e
}

// Internal wraps an invariant violation. Message is sanitized; cause is logged
// by the caller with full context, not returned to the end user.
func Internal(correlationID string, cause error, format string, args ...any) *Error {
	e := newf(ClassInternal, format, args...)
	e.cause = cause
	e.CorrelationID = correlationID
	return e
}

// WithSuggestions attaches actionable hints (e.g. "add a WHERE clause") to any error.
func (e *Error) WithSuggestions(s ...string) *Error {
	e.Suggestions = append(e.Suggestions, s...)
	return e
}

// ClassOf extracts the Class from err, defaulting to ClassInternal for
// errors that were never classified through this package.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassInternal
}
