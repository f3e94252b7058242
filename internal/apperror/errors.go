package apperror

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers and for retry/breaker accounting.
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeConflict   Code = "CONFLICT"
	CodeNotFound   Code = "NOT_FOUND"
	CodeTransient  Code = "TRANSIENT_NETWORK_ERROR"
	CodeInternal   Code = "INTERNAL_ERROR"
)

// Error is the structured error surfaced to callers as {code, message}.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports malformed or out-of-policy input. Never retried.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a duplicate resource or a lost concurrent update.
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps a timeout or connection failure.
func Transient(err error, format string, args ...interface{}) *Error {
	return &Error{Code: CodeTransient, Message: fmt.Sprintf(format, args...), Err: err}
}

// Internal wraps an unexpected failure.
func Internal(err error, format string, args ...interface{}) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func IsValidation(err error) bool { return err != nil && CodeOf(err) == CodeValidation }
func IsConflict(err error) bool   { return err != nil && CodeOf(err) == CodeConflict }
func IsNotFound(err error) bool   { return err != nil && CodeOf(err) == CodeNotFound }
func IsTransient(err error) bool  { return err != nil && CodeOf(err) == CodeTransient }
