package mqtt

import "errors"

// Broker errors. Check with errors.Is.
var (
	// ErrNotConnected means the broker link is down; the bridge reports it as
	// a failed forward and retries on the next event.
	ErrNotConnected = errors.New("mqtt: broker link down")

	ErrConnectionFailed = errors.New("mqtt: broker unreachable")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")

	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)

// Errors for messages that cross the bus boundary.
var (
	// ErrPayloadTooLarge is returned for an outbound message above maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrUnknownCommand is returned for a message on a topic that is not
	// <prefix>/command/<event>.
	ErrUnknownCommand = errors.New("mqtt: not a command topic")

	// ErrCommandRefused is returned for a command naming an event only the
	// bus itself may raise, such as "error".
	ErrCommandRefused = errors.New("mqtt: command refused")

	// ErrMalformedCommand is returned for a command payload that is neither
	// empty, an event envelope nor a JSON object.
	ErrMalformedCommand = errors.New("mqtt: malformed command payload")
)
