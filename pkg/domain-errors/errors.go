// Package domainerrors provides coded domain errors for the ledger core.
//
// Services return these so transports can map failures to responses without
// string matching. Stores do NOT use this package; they return sentinel
// errors (pkg/platform/sentinel) which services translate into coded errors.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain failure. Codes are stable API: transports map them
// to HTTP statuses and tests assert on them.
type Code string

const (
	// Generic codes.
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInvalidState       Code = "invalid_state"
	CodeInternal           Code = "internal_error"
	CodeUnavailable        Code = "unavailable"

	// Distribution pool codes.
	CodeExpired        Code = "expired"
	CodeExhausted      Code = "exhausted"
	CodeAlreadyClaimed Code = "already_claimed"

	// Ledger and withdrawal codes.
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeBelowMinimum        Code = "below_minimum"

	// Identity and merge codes.
	CodeIdentityConflict        Code = "identity_conflict"
	CodeSelfMergeForbidden      Code = "self_merge_forbidden"
	CodeInvalidVerificationCode Code = "invalid_verification_code"
)

// Error is a coded domain error. The wrapped cause (if any) is reachable via
// errors.Unwrap for logging; callers should branch on the code, not the cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err returns
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias of HasCode kept for readable call sites in tests.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the human-readable message from err, or the empty string
// when err is not a coded error.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
