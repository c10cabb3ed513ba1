// Package domainerrors provides coded errors that cross layer boundaries.
//
// Services return these so handlers can map failures to HTTP statuses without
// inspecting error strings. Stores return sentinel errors (pkg/platform/sentinel)
// and services translate them into coded errors at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure. The string value doubles as the wire
// error code in JSON responses.
type Code string

const (
	// CodeValidation covers malformed or out-of-range input.
	CodeValidation Code = "validation_error"
	// CodeBadRequest covers requests that cannot be parsed at all.
	CodeBadRequest Code = "bad_request"
	// CodePreconditionFailed covers operations refused because the caller's
	// state does not allow them yet (incomplete profile, no active rule).
	CodePreconditionFailed Code = "precondition_failed"
	// CodeNotFound covers missing entities.
	CodeNotFound Code = "not_found"
	// CodeConflict covers uniqueness and concurrent-modification failures.
	CodeConflict Code = "conflict"
	// CodeUnauthorized covers missing or invalid credentials.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden covers authenticated callers acting outside their rights.
	CodeForbidden Code = "forbidden"
	// CodeProviderRejected covers upstream calls the provider answered with a
	// failure envelope.
	CodeProviderRejected Code = "provider_rejected"
	// CodeUpstreamUnavailable covers network or timeout failures reaching an
	// upstream dependency.
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	// CodeSchema covers upstream responses that parsed as JSON but did not
	// match any shape we understand.
	CodeSchema Code = "schema_error"
	// CodeInvariantViolation covers broken domain invariants. Constructors
	// return these; services translate them to validation errors at the API
	// boundary.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeInternal covers everything else.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error. Use New/Newf/Wrap rather than constructing
// directly so the zero-code case cannot occur.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two domain errors by code and message so tests can assert with
// errors.Is against a freshly constructed expectation.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code && e.Message == te.Message
}

// New creates a coded error with a static message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewWithDetails creates a coded error carrying a structured payload, such
// as the provider response behind a rejection. The HTTP layer includes the
// payload in the response body for client-visible statuses.
func NewWithDetails(code Code, message string, details map[string]any) error {
	return &Error{Code: code, Message: message, Details: details}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is/As.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias for HasCode kept for call-site readability in tests.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the code carried by err, or CodeInternal when err carries
// none. Callers use this for HTTP status mapping.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
