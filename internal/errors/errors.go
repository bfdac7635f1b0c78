// Package errors provides coded errors shared by repositories, services and
// handlers. Codes are stable strings so callers can branch on them without
// string-matching messages.
package errors

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeInternal     = "INTERNAL"
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving the cause chain.
func Wrap(err error, code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// InvalidInput reports a validation failure for a named field.
func InvalidInput(field, reason string) error {
	return &Error{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("%s: %s", field, reason)}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// Unauthorized reports a failed capability check.
func Unauthorized(message string) error {
	return &Error{Code: ErrCodeUnauthorized, Message: message}
}

// Conflict reports an action that is invalid for the current state.
func Conflict(message string) error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// Code extracts the error code, defaulting to INTERNAL for uncoded errors.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && Code(err) == code
}
