package types

import (
	"errors"
	"fmt"
)

// ErrorCode identifies one of the closed set of failure kinds produced by the
// LLM core. Parsing-layer codes are retry-eligible; everything else surfaces
// immediately.
type ErrorCode string

const (
	// Parsing layer (retry-eligible).
	ErrParse      ErrorCode = "PARSE_FAILED"
	ErrValidation ErrorCode = "VALIDATION_FAILED"

	// Terminal, never retried.
	ErrTransform  ErrorCode = "TRANSFORM_FAILED"
	ErrConnection ErrorCode = "CONNECTION_FAILED"
	ErrAuth       ErrorCode = "AUTHENTICATION"
	ErrRateLimit  ErrorCode = "RATE_LIMITED"
	ErrServer     ErrorCode = "SERVER_ERROR"
	ErrCancelled  ErrorCode = "CANCELLED"
	ErrTimeout    ErrorCode = "TIMEOUT"
)

// excerptLimit bounds how much raw backend text an error may retain.
const excerptLimit = 200

// Error is the structured error carried across the parsing and execution
// layers. Message is short and user-facing; diagnostic context (raw excerpt,
// validation detail) is bounded.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Raw       string    `json:"raw,omitempty"`
	Details   []string  `json:"details,omitempty"`
	Cause     error     `json:"-"`
}

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

// NewError creates an Error with the given code and message. Parse and
// validation failures are marked retryable.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: code == ErrParse || code == ErrValidation,
	}
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRaw attaches a bounded excerpt of the raw backend output.
func (e *Error) WithRaw(raw string) *Error {
	e.Raw = Excerpt(raw)
	return e
}

// WithDetails attaches diagnostic detail lines (validation errors, attempted
// strategies).
func (e *Error) WithDetails(details ...string) *Error {
	e.Details = append(e.Details, details...)
	return e
}

// Excerpt truncates s to the bounded diagnostic length.
func Excerpt(s string) string {
	if len(s) <= excerptLimit {
		return s
	}
	return s[:excerptLimit] + "..."
}

// IsRetryable reports whether err is a retry-eligible parsing-layer failure.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf extracts the error code, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
