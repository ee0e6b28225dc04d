// Package errors provides the kinded error type used across the payout service.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error is a custom error type carrying a machine-readable kind alongside a
// human readable message and an optional cause.
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicates the error
	Message string `json:"message"`

	status int
	cause  error
}

var _ error = (*Error)(nil)

// Domain error kinds. Handlers map these onto HTTP responses; services return
// them so callers can branch with errors.Is.
var (
	ErrInsufficientBalance  = kind("INSUFFICIENT_BALANCE", http.StatusUnprocessableEntity)
	ErrMonthlyLimitExceeded = kind("MONTHLY_LIMIT_EXCEEDED", http.StatusUnprocessableEntity)
	ErrMissingBankDetails   = kind("MISSING_BANK_DETAILS", http.StatusUnprocessableEntity)
	ErrInvalidTransition    = kind("INVALID_TRANSITION", http.StatusConflict)
	ErrBankAccountLocked    = kind("BANK_ACCOUNT_LOCKED", http.StatusConflict)
	ErrChangeRequestPending = kind("CHANGE_REQUEST_PENDING", http.StatusConflict)
	ErrInvalid              = kind("INVALID_REQUEST", http.StatusBadRequest)
	ErrNotFound             = kind("NOT_FOUND", http.StatusNotFound)
	ErrUnauthorized         = kind("UNAUTHORIZED", http.StatusUnauthorized)
	ErrForbidden            = kind("FORBIDDEN", http.StatusForbidden)
	ErrUnavailable          = kind("UNAVAILABLE", http.StatusServiceUnavailable)
)

func kind(k string, status int) *Error {
	return &Error{Kind: k, status: status}
}

// New returns an error of unknown kind with the given message.
func New(message string) *Error {
	return &Error{Kind: "UNKNOWN", Message: message, status: http.StatusInternalServerError}
}

// Wrap returns a copy of e with the given cause attached.
func Wrap(e *Error, cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain returns a copy of e with a formatted message.
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s]", e.Kind)
	if e.Message != "" {
		str += " " + e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is implements the interface needed by errors.Is; two Errors match on kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// StatusCode returns the HTTP status associated with err, or 500 when err is
// not a kinded Error.
func StatusCode(err error) int {
	var e *Error
	if As(err, &e) && e.status != 0 {
		return e.status
	}
	return http.StatusInternalServerError
}

// KindOf returns the kind string of err, or "INTERNAL" for unkinded errors.
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return "INTERNAL"
}
