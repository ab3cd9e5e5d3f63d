package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

const (
	// ErrAgentInvocation covers provider/transport failures, timeouts, and
	// malformed responses from the agent-invocation collaborator. Transient.
	ErrAgentInvocation ErrorCode = "AGENT_INVOCATION"

	// ErrInvalidTransition is returned when a caller tries to resume a run
	// that is not paused, or with a mismatched/duplicate request id.
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// ErrInvalidConfiguration is returned at start for malformed topology
	// configuration (empty agent list, round count < 1).
	ErrInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"

	// ErrConfiguration is a fatal error from the external configuration
	// collaborator, propagated unchanged.
	ErrConfiguration ErrorCode = "CONFIGURATION"

	// ErrRunNotFound is returned when a run id is unknown to the registry.
	ErrRunNotFound ErrorCode = "RUN_NOT_FOUND"

	// ErrRunCancelled records a cancellation between turns.
	ErrRunCancelled ErrorCode = "RUN_CANCELLED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
