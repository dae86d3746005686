package bus

import (
	"encoding/json"
	"fmt"
)

// ErrorEventName is the reserved event name used to report handler failures.
const ErrorEventName = "error"

// Payload is the value attached to a Publish call.
// The bus never inspects or mutates it.
type Payload = any

// Event is the base payload shape: an optional generic data bag.
type Event struct {
	Data map[string]any `json:"data,omitempty"`
}

// String renders the data bag as JSON, or an empty string when there is none.
func (e Event) String() string {
	if len(e.Data) == 0 {
		return ""
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Sprintf("%v", e.Data)
	}
	return string(b)
}

// Get returns a value from the data bag.
func (e Event) Get(key string) (any, bool) {
	v, ok := e.Data[key]
	return v, ok
}

// InfoEvent is an informational payload carrying only a message.
type InfoEvent struct {
	Message string `json:"message"`
}

// ErrorEvent wraps a handler failure. It is only ever published under
// ErrorEventName.
type ErrorEvent struct {
	// Err is the failure returned (or recovered) from the handler.
	Err error

	// Source is the name of the event whose handler failed.
	Source string
}

// Error implements the error interface.
func (e ErrorEvent) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("event handler failed: %v", e.Err)
	}
	return fmt.Sprintf("handler for %q failed: %v", e.Source, e.Err)
}

// Unwrap returns the wrapped failure.
func (e ErrorEvent) Unwrap() error {
	return e.Err
}
