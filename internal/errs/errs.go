// Package errs implements the error taxonomy the core relies on:
// not-found, validation, provider, agent, state-conflict, and timeout
// errors all carry a kind, a human-readable message, and optional
// structured detail, and never expose internals to callers.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindValidation    Kind = "validation"
	KindProviderError Kind = "provider_error"
	KindAgentError    Kind = "agent_error"
	KindStateConflict Kind = "state_conflict"
	KindTimeout       Kind = "timeout"
)

// Retryable reports whether a caller may reasonably retry an error of
// this kind. Not-found, validation, and state-conflict never are.
func (k Kind) Retryable() bool {
	switch k {
	case KindProviderError, KindTimeout:
		return true
	default:
		return false
	}
}

// Error is the typed error returned across package boundaries in the
// core. Detail is optional structured context (e.g. the offending
// field name); it is never meant to be rendered verbatim to an
// end user.
type Error struct {
	Kind    Kind
	Message string
	Detail  any
	cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a cause, preserving it
// for errors.Unwrap/errors.Is.
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetail attaches structured detail and returns the same error for
// chaining at the construction site.
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}

func NotFound(message string) *Error      { return New(KindNotFound, message) }
func Validation(message string) *Error    { return New(KindValidation, message) }
func StateConflict(message string) *Error { return New(KindStateConflict, message) }
func Timeout(message string) *Error       { return New(KindTimeout, message) }

func ProviderError(cause error, message string) *Error {
	return Wrap(KindProviderError, cause, message)
}

func AgentError(message string) *Error {
	return New(KindAgentError, message)
}

// As extracts an *Error from err, following the standard errors.As
// convention so callers can branch on Kind.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
