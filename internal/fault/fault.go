// Package fault defines the typed error taxonomy shared by the
// orchestration core. Every terminal failure surfaced to a caller is a
// *fault.Error carrying the failure kind, the component that produced
// it, and whether the caller may retry.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation marks a malformed task or request. Never retried.
	KindValidation
	// KindTransient marks a timeout, network error or 5xx. Recovered
	// locally via retry and fallback; surfaces only when the fallback
	// path itself fails.
	KindTransient
	// KindCapability means no agent can serve the task type.
	KindCapability
	// KindOverloaded means a priority queue hit its depth ceiling.
	KindOverloaded
	// KindDeadlineExceeded means the task deadline passed before or
	// while processing.
	KindDeadlineExceeded
	// KindIndexUnavailable means a retrieval index is missing or could
	// not be queried. Tasks degrade rather than fail on this kind.
	KindIndexUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindCapability:
		return "capability"
	case KindOverloaded:
		return "overloaded"
	case KindDeadlineExceeded:
		return "deadline_exceeded"
	case KindIndexUnavailable:
		return "index_unavailable"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned across component boundaries.
type Error struct {
	Kind      Kind
	Component string
	Retryable bool
	msg       string
	cause     error
}

// New creates a fault with no underlying cause.
func New(kind Kind, component, msg string) *Error {
	return &Error{Kind: kind, Component: component, Retryable: kind == KindTransient, msg: msg}
}

// Newf creates a fault with a formatted message.
func Newf(kind Kind, component, format string, args ...any) *Error {
	return New(kind, component, fmt.Sprintf(format, args...))
}

// Wrap attaches a kind and component to an underlying error.
func Wrap(kind Kind, component string, err error) *Error {
	return &Error{Kind: kind, Component: component, Retryable: kind == KindTransient, cause: err}
}

func (e *Error) Error() string {
	switch {
	case e.msg != "" && e.cause != nil:
		return fmt.Sprintf("%s: %s [%s/%s]: %v", e.Component, e.msg, e.Kind, retryLabel(e.Retryable), e.cause)
	case e.cause != nil:
		return fmt.Sprintf("%s [%s/%s]: %v", e.Component, e.Kind, retryLabel(e.Retryable), e.cause)
	default:
		return fmt.Sprintf("%s: %s [%s/%s]", e.Component, e.msg, e.Kind, retryLabel(e.Retryable))
	}
}

func (e *Error) Unwrap() error { return e.cause }

func retryLabel(r bool) string {
	if r {
		return "retryable"
	}
	return "final"
}

// KindOf extracts the Kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// ComponentOf extracts the originating component from an error chain.
func ComponentOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Component
	}
	return ""
}

// IsTransient reports whether the error chain carries a transient kind.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
