// Package apperr defines the stable error taxonomy shared by every
// pipeline stage. Stage failures are converted to *Error values so the
// router can render a structured failure envelope instead of leaking
// raw errors to callers.
package apperr

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Code identifies an error class. Codes map to HTTP-equivalent
// semantics at the transport edge (400, 403, 404, 500, 429).
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodePermission Code = "PERMISSION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeExecution  Code = "EXECUTION_ERROR"
	CodeRateLimit  Code = "RATE_LIMIT_ERROR"
)

// Violation is a single field-level validation failure.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the typed error carried through the pipeline.
type Error struct {
	Code       Code        `json:"code"`
	Message    string      `json:"message"`
	Violations []Violation `json:"violations,omitempty"`
	Stack      string      `json:"stack,omitempty"`
	cause      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Validation creates a VALIDATION_ERROR with optional field violations.
func Validation(msg string, violations ...Violation) *Error {
	return &Error{Code: CodeValidation, Message: msg, Violations: violations}
}

// Permission creates a PERMISSION_ERROR.
func Permission(format string, args ...any) *Error {
	return &Error{Code: CodePermission, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a NOT_FOUND error.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Execution wraps a service-level failure. The cause is retained for
// logging; Message holds the sanitized text shown to callers.
func Execution(msg string, cause error) *Error {
	return &Error{Code: CodeExecution, Message: msg, cause: cause}
}

// RateLimit creates a RATE_LIMIT_ERROR.
func RateLimit(msg string) *Error {
	return &Error{Code: CodeRateLimit, Message: msg}
}

// WithStack attaches the current goroutine stack. Only call outside
// production contexts; stacks never belong in caller-facing envelopes.
func (e *Error) WithStack() *Error {
	e.Stack = string(debug.Stack())
	return e
}

// From coerces any error into an *Error. Unknown errors become
// EXECUTION_ERROR with a sanitized message; the original error is kept
// as the cause.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Execution("command execution failed", err)
}

// CodeOf returns the code of err, or CodeExecution for untyped errors.
func CodeOf(err error) Code {
	if ae := From(err); ae != nil {
		return ae.Code
	}
	return CodeExecution
}
