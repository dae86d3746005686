package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the JSON wire form of a bus event, used wherever events cross
// a process boundary (MQTT topics, WebSocket clients).
type Envelope struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// NewEnvelope creates an envelope for the given event name and data.
func NewEnvelope(eventType string, data map[string]any) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Encode marshals the envelope to JSON.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Event converts the envelope into the base payload shape.
func (e Envelope) Event() Event {
	return Event{Data: e.Data}
}

// DecodeEnvelope parses a JSON envelope. The type field is required; a
// missing ID or timestamp is filled in.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: type is required", ErrInvalidEnvelope)
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp == "" {
		env.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return env, nil
}

// PayloadData extracts a JSON-friendly data bag from a payload so that it can
// be carried in an Envelope. Unknown payload types are round-tripped through
// JSON; payloads that cannot be encoded yield nil.
func PayloadData(p Payload) map[string]any {
	switch v := p.(type) {
	case nil:
		return nil
	case Event:
		return v.Data
	case *Event:
		if v == nil {
			return nil
		}
		return v.Data
	case InfoEvent:
		return map[string]any{"message": v.Message}
	case ErrorEvent:
		return map[string]any{"error": v.Error(), "source": v.Source}
	case map[string]any:
		return v
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]any{"value": p}
	}
	return data
}
