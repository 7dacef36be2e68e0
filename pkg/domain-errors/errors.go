// Package domainerrors provides coded domain errors that cross component
// boundaries as values. Services translate store sentinels into these; HTTP
// handlers branch on the code to pick a status and user-facing copy.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for transport mapping and caller branching.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeLocked             Code = "locked"
	CodeGone               Code = "gone"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal_error"
)

// Error is a domain error with a stable code, an optional machine-readable
// reason (e.g. "EMAIL_EXISTS"), and optional structured details for clients.
type Error struct {
	code    Code
	message string
	reason  string
	details map[string]any
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Code returns the classification code.
func (e *Error) Code() Code { return e.code }

// Reason returns the machine-readable reason, if one was attached.
func (e *Error) Reason() string { return e.reason }

// Message returns the human-readable description.
func (e *Error) Message() string { return e.message }

// Details returns structured details attached via WithDetail, or nil.
func (e *Error) Details() map[string]any { return e.details }

// WithReason attaches a machine-readable reason string and returns the error.
func (e *Error) WithReason(reason string) *Error {
	e.reason = reason
	return e
}

// WithDetail attaches a structured detail field and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// New creates a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message while keeping it unwrappable.
func Wrap(err error, code Code, message string) *Error {
	return &Error{code: code, message: message, wrapped: err}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for unknown
// errors so unexpected conditions never leak detail to clients.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}

// ReasonOf extracts the machine-readable reason from err, or "".
func ReasonOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.reason
	}
	return ""
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var de *Error
	ok := errors.As(err, &de)
	return de, ok
}
