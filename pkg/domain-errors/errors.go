// Package domainerrors defines the coded error values used across the
// clinical core. Every failure that crosses a component boundary is one of
// these codes; callers branch on the code, not on error text.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers and for wire responses.
type Code string

const (
	// CodeValidation marks structural input problems. Caller's fault, no
	// side effects, safe to fix and resubmit.
	CodeValidation Code = "validation_error"

	// CodeUnknownCommand marks a command_type with no registered mapper.
	CodeUnknownCommand Code = "unknown_command_type"

	// CodeUnknownQuery marks a query_type with no registered projection.
	CodeUnknownQuery Code = "unknown_query_type"

	// CodePrecondition marks a failed cross-aggregate check. The check may
	// have run against stale local state while offline; retry after sync.
	CodePrecondition Code = "precondition_failed"

	// CodeDomain marks an aggregate rejecting a command. Mechanical retry
	// will not help.
	CodeDomain Code = "domain_error"

	// CodeConcurrency marks an exhausted optimistic-concurrency retry loop.
	CodeConcurrency Code = "concurrency_error"

	// CodeTransient marks storage, network, or deadline failures. The
	// command had no durable side effects; retry with backoff.
	CodeTransient Code = "transient"

	// CodeNotFound keeps store-level 404s consistent across implementations.
	CodeNotFound Code = "not_found"
)

// Error is the concrete coded error. Invariant carries the stable INV-…
// identifier when the failure maps to a documented invariant, so clients
// can localize the message without parsing it.
type Error struct {
	Code      Code
	Invariant string
	Message   string
	cause     error
}

func (e *Error) Error() string {
	if e.Invariant != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Code, e.Invariant, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Invariant builds a coded error carrying a stable invariant identifier.
func Invariant(code Code, invariant, message string) *Error {
	return &Error{Code: code, Invariant: invariant, Message: message}
}

// Wrap attaches a cause while keeping the code visible to callers.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the code from any error in the chain. Unrecognized errors
// report CodeTransient so infrastructure failures are retried, not surfaced
// as domain outcomes.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeTransient
}

// InvariantOf extracts the invariant identifier, if any, from an error chain.
func InvariantOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Invariant
	}
	return ""
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
