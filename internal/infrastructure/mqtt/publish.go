package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/home-awareness/internal/bus"
)

// maxPayloadSize caps outbound messages at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic. Event topics are never retained; state
// topics such as PresenceState are.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkOutbound(topic, qos, len(payload)); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(ErrPublishFailed, c.client.Publish(topic, qos, retained, payload))
}

// PublishEnvelope mirrors a bus event to <prefix>/event/<name> as a JSON
// envelope with a fresh ID and timestamp.
//
//	err := client.PublishEnvelope("tracking.event.user_enter",
//	    map[string]any{"user": "alice"}, 1)
func (c *Client) PublishEnvelope(name string, data map[string]any, qos byte) error {
	if name == "" {
		return fmt.Errorf("%w: event name is empty", ErrInvalidTopic)
	}
	raw, err := bus.NewEnvelope(name, data).Encode()
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrPublishFailed, name, err)
	}
	return c.Publish(c.topics.Event(name), raw, qos, false)
}

// PublishRetained encodes v as JSON and publishes it retained, so that new
// subscribers see the latest state immediately.
func (c *Client) PublishRetained(topic string, v any, qos byte) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrPublishFailed, topic, err)
	}
	return c.Publish(topic, raw, qos, true)
}

func checkOutbound(topic string, qos byte, size int) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case size > maxPayloadSize:
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, size, maxPayloadSize)
	}
	return nil
}
