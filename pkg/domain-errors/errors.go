// Package domainerrors carries the error taxonomy shared by every module.
//
// Services return *Error values; transports translate the Code into a status.
// Stores return sentinel errors from pkg/platform/sentinel and let services
// wrap them with a code.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies an error class independent of transport.
type Code string

const (
	CodeInternal           Code = "internal_error"
	CodeInvariantViolation Code = "invariant_violation"
	CodeValidation         Code = "validation_error"
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvalidRequest     Code = "invalid_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"

	// Attendance pipeline taxonomy.
	CodeMalformedInput    Code = "malformed_input"
	CodePayloadTooLarge   Code = "payload_too_large"
	CodeVisionUnavailable Code = "vision_unavailable"
	CodeRateLimited       Code = "rate_limited"
	CodeTokenInvalid      Code = "token_invalid"
	CodeTokenExpired      Code = "token_expired"
	CodeTokenMismatch     Code = "token_mismatch"
	CodeAlreadyClaimed    Code = "already_claimed"
	CodeNotOptedIn        Code = "not_opted_in"
	CodeLedgerUnavailable Code = "ledger_unavailable"
	CodePartiallyIssued   Code = "partially_issued"
	CodeCapacityExhausted Code = "capacity_exhausted"
	CodeEventInactive     Code = "event_inactive"
)

// Error is a coded domain error with an optional wrapped cause.
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

// Is matches another *Error with the same code and message, which lets tests
// use errors.Is against a freshly built expectation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Message == "" || e.Message == t.Message)
}

// New builds a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// As returns the outermost *Error in the chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether any *Error in the chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		if de, ok := err.(*Error); ok && de.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Is is shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}
