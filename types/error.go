package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Retrieval error codes
const (
	ErrNotFound           ErrorCode = "NOT_FOUND"           // no entity/property/sitelink match; expected, non-fatal
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE" // network or upstream failure on an external call
	ErrDecode             ErrorCode = "DECODE_ERROR"        // unexpected response shape
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
)

// Model error codes
const (
	ErrModelInit  ErrorCode = "MODEL_INIT" // embedding/generation endpoint unreachable at startup; fatal
	ErrGeneration ErrorCode = "GENERATION"
	ErrEmbedding  ErrorCode = "EMBEDDING"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Service    string    `json:"service,omitempty"`
	Cause      error     `json:"-"`
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

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithService sets the upstream service name.
func (e *Error) WithService(service string) *Error {
	e.Service = service
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

// IsNotFound reports whether err is a NOT_FOUND lookup outcome.
func IsNotFound(err error) bool {
	return GetErrorCode(err) == ErrNotFound
}

// IsUnavailable reports whether err is an upstream availability failure.
func IsUnavailable(err error) bool {
	code := GetErrorCode(err)
	return code == ErrServiceUnavailable || code == ErrUpstreamTimeout || code == ErrRateLimited
}
