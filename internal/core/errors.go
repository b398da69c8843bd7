package core

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures for callers; the HTTP frontend maps each
// code to a status class.
type ErrorCode string

const (
	CodeNotFound     ErrorCode = "not_found"
	CodeConflict     ErrorCode = "conflict"
	CodeValidation   ErrorCode = "validation"
	CodeUnauthorized ErrorCode = "unauthorized"
	CodeExternal     ErrorCode = "external"
	CodeTimeout      ErrorCode = "timeout"
	CodeInternal     ErrorCode = "internal"
)

// Error is a coded error with a human-readable message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a coded error.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a coded error around a cause.
func WrapError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the error code, defaulting to internal.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// Convenience constructors for the common cases.

func NotFound(what, id string) *Error {
	return NewError(CodeNotFound, "%s not found: %s", what, id)
}

func Conflict(format string, args ...any) *Error {
	return NewError(CodeConflict, format, args...)
}

func Validation(format string, args ...any) *Error {
	return NewError(CodeValidation, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return NewError(CodeUnauthorized, format, args...)
}
