package model

import "fmt"

// ErrorCode is the fixed set of external error codes the SSE/JSON boundary
// may return. No error crosses a component boundary as a panic; every
// boundary returns one of these as an outcome variant.
type ErrorCode string

const (
	ErrInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrUnauthenticated     ErrorCode = "UNAUTHENTICATED"
	ErrCapExceeded         ErrorCode = "CAP_EXCEEDED"
	ErrProviderTimeout     ErrorCode = "PROVIDER_TIMEOUT"
	ErrRateLimit           ErrorCode = "RATE_LIMIT"
	ErrInsufficientModels  ErrorCode = "INSUFFICIENT_MODELS"
	ErrInternal            ErrorCode = "INTERNAL"
)

// Error is a structured, retryable-aware error carried across component
// boundaries. Never logged with a stack trace or a secret attached.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the ErrorCode from err, or "" if err is not an *Error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// StatusToErrorCode maps a terminal StageOutput status observed on the
// last retry attempt to the external error code surfaced to callers
// (spec §7 "Transient provider errors ... external code PROVIDER_TIMEOUT
// or RATE_LIMIT depending on last-observed status").
func StatusToErrorCode(status OutputStatus) ErrorCode {
	switch status {
	case StatusTimeout:
		return ErrProviderTimeout
	case StatusRateLimited:
		return ErrRateLimit
	case StatusCapExceeded:
		return ErrCapExceeded
	default:
		return ErrInternal
	}
}
