// Package apierr defines the caller-facing error taxonomy for the relay.
// Errors flow up the resolver chain as values; only the HTTP boundary turns
// them into transport responses.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a relay error for status mapping and client dispatch.
type Kind string

// Error kinds, each mapped to one HTTP status.
const (
	// KindModelNotFound covers unknown or disabled models and providers.
	KindModelNotFound Kind = "model_not_found"
	// KindUnsupportedProvider covers catalog rows naming an unknown family.
	KindUnsupportedProvider Kind = "unsupported_provider"
	// KindInsufficientModelPermission covers tier-gated model access.
	KindInsufficientModelPermission Kind = "insufficient_model_permission"
	// KindInsufficientCredits covers a zero or negative pre-flight balance.
	KindInsufficientCredits Kind = "insufficient_credits"
	// KindOutstandingDebt covers a positive pre-flight debt.
	KindOutstandingDebt Kind = "outstanding_debt"
	// KindInvalidRequest covers malformed bodies and plan-limit violations.
	KindInvalidRequest Kind = "invalid_request"
	// KindUpstream covers provider failures before or during invocation.
	KindUpstream Kind = "upstream_error"
	// KindStream covers failures after streaming has started.
	KindStream Kind = "stream_error"
	// KindUnauthorized covers missing or invalid caller credentials.
	KindUnauthorized Kind = "unauthorized"
)

// Machine-readable codes carried alongside KindInvalidRequest so clients can
// distinguish specific validation failures from a generic 400.
const (
	// CodeThinkingLevelInvalid flags an unknown reasoning level id.
	CodeThinkingLevelInvalid = "THINKING_LEVEL_INVALID"
	// CodeTooManyCompletions flags an `n` beyond the plan allowance.
	CodeTooManyCompletions = "TOO_MANY_COMPLETIONS"
)

// Error is a typed relay error with an optional machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPStatus maps the error kind to an HTTP status code.
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindModelNotFound:
		return http.StatusNotFound
	case KindUnsupportedProvider, KindInvalidRequest:
		return http.StatusBadRequest
	case KindInsufficientModelPermission:
		return http.StatusForbidden
	case KindInsufficientCredits, KindOutstandingDebt:
		return http.StatusPaymentRequired
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// WithCode overrides the machine-readable code.
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}
	e.Code = code
	return e
}

// Wrap constructs an Error wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message, Err: err}
}

// As extracts a typed relay error from an error chain.
func As(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// From coerces any error into a typed relay error, defaulting to upstream.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if typed, ok := As(err); ok {
		return typed
	}
	return Wrap(KindUpstream, "upstream call failed", err)
}
