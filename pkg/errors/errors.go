// Package errors provides the coded error type shared by every layer of plantatlas.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Error codes. The HTTP layer maps each code to a status.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeSourceUnavailable = "SOURCE_UNAVAILABLE"
	CodeMalformedRecord   = "MALFORMED_RECORD"
	CodeInternal          = "INTERNAL_ERROR"
	CodeCanceled          = "CANCELED"
	CodeTimeout           = "TIMEOUT"
)

// AccessError is an error raised while loading or querying a record set.
type AccessError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *AccessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AccessError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AccessError with the same code.
func (e *AccessError) Is(target error) bool {
	t, ok := target.(*AccessError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a single detail to the error.
func (e *AccessError) WithDetail(key string, value interface{}) *AccessError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons. Only the code is compared.
var (
	ErrNotFound          = &AccessError{Code: CodeNotFound, Message: "record not found"}
	ErrInvalidRequest    = &AccessError{Code: CodeInvalidRequest, Message: "invalid request"}
	ErrSourceUnavailable = &AccessError{Code: CodeSourceUnavailable, Message: "data source unavailable"}
	ErrMalformedRecord   = &AccessError{Code: CodeMalformedRecord, Message: "malformed record"}
)

// New creates a new AccessError with the given code and message.
func New(code, message string) *AccessError {
	return &AccessError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AccessError with a formatted message.
func Newf(code, format string, args ...interface{}) *AccessError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an error with an AccessError.
func Wrap(err error, code, message string) *AccessError {
	if err == nil {
		return nil
	}
	return &AccessError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *AccessError {
	if err == nil {
		return nil
	}
	return &AccessError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

func hasCode(err error, code string) bool {
	var accessErr *AccessError
	if errors.As(err, &accessErr) {
		return accessErr.Code == code
	}
	return false
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsInvalidRequest checks if an error is an invalid request error.
func IsInvalidRequest(err error) bool {
	return hasCode(err, CodeInvalidRequest)
}

// IsSourceUnavailable checks if the data source could not be read.
func IsSourceUnavailable(err error) bool {
	return hasCode(err, CodeSourceUnavailable)
}

// IsMalformed checks if one or more source rows failed validation.
func IsMalformed(err error) bool {
	return hasCode(err, CodeMalformedRecord)
}

// IsCanceled checks if the caller abandoned the request.
func IsCanceled(err error) bool {
	return hasCode(err, CodeCanceled)
}

// FromContext classifies a context error: CANCELED for context.Canceled and
// TIMEOUT for context.DeadlineExceeded. It returns nil for any other error.
func FromContext(err error, format string, args ...interface{}) *AccessError {
	switch {
	case errors.Is(err, context.Canceled):
		return Wrapf(err, CodeCanceled, format, args...)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrapf(err, CodeTimeout, format, args...)
	default:
		return nil
	}
}

// GetCode extracts the error code from an error.
func GetCode(err error) string {
	var accessErr *AccessError
	if errors.As(err, &accessErr) {
		return accessErr.Code
	}
	return CodeInternal
}

// GetMessage extracts the error message from an error.
func GetMessage(err error) string {
	var accessErr *AccessError
	if errors.As(err, &accessErr) {
		return accessErr.Message
	}
	return err.Error()
}
