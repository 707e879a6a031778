package types

import "fmt"

// ErrorCode represents a unified error code across the platform.
type ErrorCode string

// Generation error codes
const (
	ErrBackendUnavailable  ErrorCode = "BACKEND_UNAVAILABLE"
	ErrMalformedOutput     ErrorCode = "MALFORMED_OUTPUT"
	ErrIncompleteOutput    ErrorCode = "INCOMPLETE_OUTPUT"
	ErrGenerationExhausted ErrorCode = "GENERATION_EXHAUSTED"
)

// Job error codes
const (
	ErrJobNotFound            ErrorCode = "JOB_NOT_FOUND"
	ErrJobTerminal            ErrorCode = "JOB_TERMINAL"
	ErrProcessorNotRegistered ErrorCode = "PROCESSOR_NOT_REGISTERED"
	ErrProcessorFailed        ErrorCode = "PROCESSOR_FAILED"
)

// General error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrUnavailable    ErrorCode = "UNAVAILABLE"
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
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
