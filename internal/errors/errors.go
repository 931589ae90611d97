// Package errors provides unified error handling with structured error codes.
// Codes cross the host binding boundary as plain strings alongside an HTTP
// status, so host scripts never have to parse Go error text.
package errors

import (
	"fmt"
	"net/http"
)

// Code classifies an error for the host binding and for retry policy.
type Code string

const (
	CodeUnknown        Code = "UNKNOWN"
	CodeInternal       Code = "INTERNAL"
	CodeInvalidFrame   Code = "INVALID_FRAME"
	CodeCaptureFailed  Code = "CAPTURE_FAILED"
	CodeNoMatch        Code = "NO_MATCH"
	CodeLinkTimeout    Code = "LINK_TIMEOUT"
	CodeLinkIO         Code = "LINK_IO"
	CodeDispatchFailed Code = "DISPATCH_FAILED"
	CodeConfigInvalid  Code = "CONFIG_INVALID"
	CodeConfigMissing  Code = "CONFIG_MISSING"
	CodeLibraryInvalid Code = "LIBRARY_INVALID"
)

// httpStatusMap maps error codes to HTTP statuses for the binding surface.
var httpStatusMap = map[Code]int{
	CodeUnknown:        http.StatusInternalServerError,
	CodeInternal:       http.StatusInternalServerError,
	CodeInvalidFrame:   http.StatusUnprocessableEntity,
	CodeCaptureFailed:  http.StatusServiceUnavailable,
	CodeNoMatch:        http.StatusOK, // a normal negative outcome, not an error
	CodeLinkTimeout:    http.StatusGatewayTimeout,
	CodeLinkIO:         http.StatusBadGateway,
	CodeDispatchFailed: http.StatusBadGateway,
	CodeConfigInvalid:  http.StatusBadRequest,
	CodeConfigMissing:  http.StatusPreconditionFailed,
	CodeLibraryInvalid: http.StatusBadRequest,
}

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// HTTPStatus returns the status the binding surface reports for this error.
func (e *AppError) HTTPStatus() int {
	if s, ok := httpStatusMap[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the code from any error, walking the cause chain.
func CodeOf(err error) Code {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return CodeUnknown
}

// IsCode checks if an error carries a specific error code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable returns true if the error is worth another send attempt.
// Only acknowledgement timeouts are retried; connection-level failures are
// fatal to the session and invalid input is never retried.
func IsRetryable(err error) bool {
	return IsCode(err, CodeLinkTimeout)
}
