// Package faaserr defines the stable error-kind taxonomy shared by every
// component. External responses carry {code, message, task-id?, request-id?};
// Kind is the stable "code" field.
package faaserr

import (
	"errors"
	"fmt"
)

// Kind is a stable, user-visible error classification. The string value is
// the wire "code" and must never change once shipped.
type Kind string

const (
	InvalidRequest      Kind = "InvalidRequest"
	PermissionDenied    Kind = "PermissionDenied"
	QuotaExceeded       Kind = "QuotaExceeded"
	Timeout             Kind = "Timeout"
	Cancelled           Kind = "Cancelled"
	InsufficientFunds   Kind = "InsufficientFunds"
	InsufficientSources Kind = "InsufficientSources"
	NonceConflict       Kind = "NonceConflict"
	SignatureInvalid    Kind = "SignatureInvalid"
	Upstream            Kind = "Upstream"
	Reverted            Kind = "Reverted"
	Internal            Kind = "Internal"
)

// Error is the typed error every host-API boundary and control-plane
// operation returns. Message must never include secret material (keys, raw
// private inputs to secure.execute).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, faaserr.InvalidRequest)-style matching by
// comparing against a bare *Error{Kind: k}.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Message == "" && t.Cause == nil
	}
	return false
}

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Of returns a sentinel of kind k suitable for errors.Is comparisons.
func Of(k Kind) *Error { return &Error{Kind: k} }

// KindOf extracts the Kind from err, defaulting to Internal if err does not
// wrap a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Retryable reports whether the task scheduler should requeue the attempt.
// Per §7: Timeout and Upstream are retried; everything else is terminal.
func Retryable(k Kind) bool {
	switch k {
	case Timeout, Upstream:
		return true
	default:
		return false
	}
}
