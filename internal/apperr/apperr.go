// Package apperr defines the error taxonomy shared by every component in
// the reader core. Components never throw past a tick boundary; they wrap
// the underlying cause in an *Error carrying a Kind, the component that
// observed it, and a short message, then report it through their own
// XxxError event and state rather than propagating a raw error upward.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a closed taxonomy of error categories. Components branch on Kind,
// never on message text.
type Kind int

const (
	// Unknown is the zero value; never returned by this package's own
	// constructors, only possible if an *Error is built by hand.
	Unknown Kind = iota
	// Timeout means an awaited external condition did not occur within
	// the deadline.
	Timeout
	// NotReady means an operation was requested on a component not in
	// Ready or Running state.
	NotReady
	// InvalidArg means a parameter violated a documented constraint.
	InvalidArg
	// NoMemory means an allocation (event, batch, buffer slot) was
	// refused because a bounded structure was full.
	NoMemory
	// Busy means a mutually exclusive resource was already claimed.
	Busy
	// NotFound means a lookup returned nothing.
	NotFound
	// TransportError means network, broker, or hardware I/O failed.
	TransportError
	// Corruption means a persisted structure failed its integrity check.
	Corruption
)

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case NotReady:
		return "not_ready"
	case InvalidArg:
		return "invalid_arg"
	case NoMemory:
		return "no_memory"
	case Busy:
		return "busy"
	case NotFound:
		return "not_found"
	case TransportError:
		return "transport_error"
	case Corruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// Error is the wrapping error type every component returns. Component is
// the short name of the originating subsystem ("nfc", "broker", "power",
// ...), matching the component tag used in that subsystem's log lines.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Component, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, apperr.ErrNotReady) match any *Error of the same
// Kind, whatever its component or message — see the sentinel vars below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an *Error for component with the given kind and message.
func New(component string, kind Kind, message string) *Error {
	return &Error{Kind: kind, Component: component, Message: message}
}

// Wrap builds an *Error for component, attaching cause for %w-style
// unwrapping and debugging, without losing the original error.
func Wrap(component string, kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Cause: cause}
}

// sentinel kind-only errors, usable with errors.Is(err, apperr.ErrNotReady).
var (
	ErrTimeout        = &Error{Kind: Timeout, Component: "*", Message: "timeout"}
	ErrNotReady       = &Error{Kind: NotReady, Component: "*", Message: "not ready"}
	ErrInvalidArg     = &Error{Kind: InvalidArg, Component: "*", Message: "invalid argument"}
	ErrNoMemory       = &Error{Kind: NoMemory, Component: "*", Message: "no memory"}
	ErrBusy           = &Error{Kind: Busy, Component: "*", Message: "busy"}
	ErrNotFound       = &Error{Kind: NotFound, Component: "*", Message: "not found"}
	ErrTransportError = &Error{Kind: TransportError, Component: "*", Message: "transport error"}
	ErrCorruption     = &Error{Kind: Corruption, Component: "*", Message: "corruption"}
)

// KindOf extracts the Kind from err, returning Unknown if err is not (or
// does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
