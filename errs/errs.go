// Package errs defines the fixed error-kind catalogue used across evh.
//
// The set of kinds is closed (spec §7 of the reactor design): configuration
// failures, poller failures, slab exhaustion, plain I/O and TLS failures, and
// callback-originated failures. Each kind wraps an optional underlying cause
// so callers can still errors.Is/errors.As through to the OS error.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a tagged variant over the fixed error taxonomy from spec §7.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindPoller
	KindSlabExhausted
	KindIO
	KindTLS
	KindCallback
	KindCallbackPanic
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindPoller:
		return "poller"
	case KindSlabExhausted:
		return "slab-exhausted"
	case KindIO:
		return "io"
	case KindTLS:
		return "tls"
	case KindCallback:
		return "callback"
	case KindCallbackPanic:
		return "callback-panic"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by evh internals.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("evh: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("evh: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target shares this error's Kind, so callers can write
// errors.Is(err, errs.New(errs.KindSlabExhausted, "", nil)) style checks, or
// more idiomatically use KindOf below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrap is a convenience for New with a formatted message.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err, if it (or something it wraps) is an
// *Error; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// ConfigurationError reports invalid or contradictory options at
// construction; fatal, surfaced to the caller before start.
func ConfigurationError(message string) *Error {
	return New(KindConfiguration, message, nil)
}

// ErrSlabExhausted reports the calling worker's slab store has no free blocks.
var ErrSlabExhausted = New(KindSlabExhausted, "no free slabs", nil)

// ErrClosed is returned by operations attempted after Stop or on a
// connection whose close flag has already been observed.
var ErrClosed = errors.New("evh: closed")
