package bus

import "errors"

// Domain errors for the event bus.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUncaughtError is returned (or passed to the fault handler) when an
	// "error" event is published and nothing is subscribed to receive it.
	ErrUncaughtError = errors.New("bus: uncaught, unspecified 'error' event")

	// ErrUnknownHandler is returned when attaching a HandlerRef that is not
	// (or no longer) held by the bus.
	ErrUnknownHandler = errors.New("bus: unknown handler reference")

	// ErrHandlerPanic wraps a panic recovered from a deferred task.
	ErrHandlerPanic = errors.New("bus: deferred handler panicked")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("bus: handler cannot be nil")

	// ErrInvalidEnvelope is returned when a wire envelope cannot be decoded.
	ErrInvalidEnvelope = errors.New("bus: invalid envelope")
)
