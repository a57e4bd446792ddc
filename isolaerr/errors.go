// Package isolaerr defines the sandbox error taxonomy: Guest, Wasm, Io,
// Host and InvalidArgument, each carrying enough context to let an embedder
// distinguish "the guest reported a failure" from "the engine faulted" from
// "the embedder misused the API".
package isolaerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error the way spec.md §7 taxonomizes sandbox failures.
type Kind int

const (
	// KindGuest means the guest entry point returned an error code and
	// message through its own propagation path.
	KindGuest Kind = iota
	// KindWasm means a trap, context-deadline interrupt, instantiation
	// failure or link failure occurred at the engine level.
	KindWasm
	// KindIo means a cache, bundle-extraction or filesystem operation
	// failed.
	KindIo
	// KindHost means an embedder-supplied capability (hostcall,
	// http_request) returned an opaque error.
	KindHost
	// KindInvalidArgument means the caller misused the API, e.g. omitted
	// a required option.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindGuest:
		return "guest"
	case KindWasm:
		return "wasm"
	case KindIo:
		return "io"
	case KindHost:
		return "host"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// GuestCode enumerates the three error codes a guest may report alongside a
// message.
type GuestCode int

const (
	GuestUnknown GuestCode = iota
	GuestInternal
	GuestAborted
)

func (c GuestCode) String() string {
	switch c {
	case GuestInternal:
		return "internal"
	case GuestAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Error is the sandbox's single error type: a Kind tag plus a wrapped cause,
// following the same "one sum type with a kind field, not a stringly-typed
// hierarchy" shape the teacher's wapc.Instance.Invoke errors use.
type Error struct {
	Kind    Kind
	Code    GuestCode // only meaningful when Kind == KindGuest
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		if e.Cause != nil {
			return fmt.Sprintf("isola: %s: %s: %v", e.Kind, e.Message, e.Cause)
		}
		return fmt.Sprintf("isola: %s: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("isola: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("isola: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is against a bare Kind-tagged sentinel created with New.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind && (other.Code == 0 || other.Code == e.Code)
	}
	return false
}

// New builds a Kind-tagged Error with a message and no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a Kind-tagged Error wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Guest builds a KindGuest error with the reported code and message.
func Guest(code GuestCode, message string) *Error {
	return &Error{Kind: KindGuest, Code: code, Message: message}
}

// Wasm wraps an engine-level failure (trap, context-deadline interrupt,
// link error).
func Wasm(cause error) *Error {
	return &Error{Kind: KindWasm, Cause: cause}
}

// Io wraps a filesystem/cache failure.
func Io(cause error) *Error {
	return &Error{Kind: KindIo, Cause: cause}
}

// Host wraps an opaque error surfaced by an embedder capability.
func Host(cause error) *Error {
	return &Error{Kind: KindHost, Cause: cause}
}

// InvalidArgument reports API misuse.
func InvalidArgument(message string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: message}
}

// ErrInterrupted is the Wasm-kind cause used when a context deadline or
// explicit cancellation cuts a call short.
var ErrInterrupted = errors.New("interrupted")

// ErrConsumed is returned by FutureHostcall.Get once a result has already
// been read.
var ErrConsumed = errors.New("future hostcall already consumed")

// ErrClosed is returned by ValueIterator.Next/BlockingRead at end of stream.
var ErrClosed = errors.New("value iterator closed")

// ErrNoOutputSink names the failure of a blocking-emit made while no
// OutputSink is installed on the current call. The blocking-emit export
// reports that case to the guest as a 0 status and does not return this
// error.
var ErrNoOutputSink = errors.New("no output sink installed for this call")
