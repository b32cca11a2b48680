// Package errs defines the error taxonomy shared by the queue, executor and
// routine packages.
//
// Domain failures (TargetNotFound) travel as ordinary payloads through a
// channel to the awaiting task. Scheduling conditions (ChannelClosed,
// Cancelled) are produced by the scheduler itself. ShouldNotHappen marks a
// violated internal invariant.
package errs

import (
	"errors"
	"fmt"
)

// Code categorizes bridge errors.
type Code string

const (
	// CodeChannelClosed indicates the sender or receiver went away before
	// the channel resolved.
	CodeChannelClosed Code = "CHANNEL_CLOSED"

	// CodeTargetNotFound indicates the closure's target vanished from the
	// store between submission and execution.
	CodeTargetNotFound Code = "TARGET_NOT_FOUND"

	// CodeCancelled indicates a cooperative token was observed set.
	CodeCancelled Code = "CANCELLED"

	// CodeShouldNotHappen indicates an internal invariant was violated,
	// e.g. resolving a channel twice.
	CodeShouldNotHappen Code = "SHOULD_NOT_HAPPEN"

	// CodeTimeout indicates a raced sleep finished first.
	CodeTimeout Code = "TIMEOUT"

	// CodeTypeMismatch indicates a signal lookup found a cell of another type.
	CodeTypeMismatch Code = "TYPE_MISMATCH"

	// CodeQueueClosed indicates a submission after the queue was closed.
	CodeQueueClosed Code = "QUEUE_CLOSED"
)

// Error is the structured error carried through channels and handles.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Target names the store entity or signal involved, if any.
	Target string

	// Details contains additional context.
	Details map[string]string
}

// Sentinels for errors.Is. Matching compares codes only, so a detailed
// *Error with the same code matches its sentinel.
var (
	ErrChannelClosed   = &Error{Code: CodeChannelClosed, Message: "channel closed"}
	ErrTargetNotFound  = &Error{Code: CodeTargetNotFound, Message: "target not found"}
	ErrCancelled       = &Error{Code: CodeCancelled, Message: "cancelled"}
	ErrShouldNotHappen = &Error{Code: CodeShouldNotHappen, Message: "internal invariant violated"}
	ErrTimeout         = &Error{Code: CodeTimeout, Message: "timed out"}
	ErrTypeMismatch    = &Error{Code: CodeTypeMismatch, Message: "type mismatch"}
	ErrQueueClosed     = &Error{Code: CodeQueueClosed, Message: "queue closed"}
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s: %s (target=%s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// TargetNotFound creates the error a store closure returns when the entity it
// was submitted for no longer exists.
func TargetNotFound(target string) *Error {
	return &Error{
		Code:    CodeTargetNotFound,
		Message: "target vanished before the closure ran",
		Target:  target,
	}
}

// ShouldNotHappen creates an invariant-violation error with a reason.
func ShouldNotHappen(reason string) *Error {
	return &Error{Code: CodeShouldNotHappen, Message: reason}
}

// TypeMismatch creates the error returned when a named signal exists with a
// different payload type.
func TypeMismatch(name, have, want string) *Error {
	return &Error{
		Code:    CodeTypeMismatch,
		Message: fmt.Sprintf("signal holds %s, requested %s", have, want),
		Target:  name,
		Details: map[string]string{
			"have": have,
			"want": want,
		},
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsChannelClosed returns true if err carries CodeChannelClosed.
func IsChannelClosed(err error) bool {
	return CodeOf(err) == CodeChannelClosed
}

// IsCancelled returns true if err carries CodeCancelled.
func IsCancelled(err error) bool {
	return CodeOf(err) == CodeCancelled
}

// IsTargetNotFound returns true if err carries CodeTargetNotFound.
func IsTargetNotFound(err error) bool {
	return CodeOf(err) == CodeTargetNotFound
}

// IsTimeout returns true if err carries CodeTimeout.
func IsTimeout(err error) bool {
	return CodeOf(err) == CodeTimeout
}

// PanicError wraps a value recovered from a panicking closure or task.
// It is delivered as a payload like any other error.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsPanic returns true if err wraps a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
