// Package apperr defines the coded errors shared by all layers. Handlers map
// codes to HTTP statuses; services return them and never panic across the API.
package apperr

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeInvalidInput       = "invalid_input"
	CodeNotAuthorized      = "not_authorized"
	CodeTemplateNotFound   = "template_not_found"
	CodeStepAlreadyDecided = "step_already_decided"
	CodeFundDebitFailed    = "fund_debit_failed"
	CodeInternal           = "internal"
)

// Error is a coded application error.
type Error struct {
	Code    string
	Message string
	Field   string // set for invalid_input
	Err     error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving the cause.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: CodeInvalidInput, Message: message, Field: field}
}

// Code returns the code of err, or internal when err carries none.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}
