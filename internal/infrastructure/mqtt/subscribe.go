package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/home-awareness/internal/bus"
)

// CommandHandler receives a decoded command. name is the bus event the
// command asks for and data its payload, nil for an empty message.
type CommandHandler func(name string, data map[string]any) error

// Subscribe registers handler for topic, which may use + and # wildcards.
// The subscription is remembered and restored after a reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.track(subscription{topic: topic, qos: qos, handler: handler})
	if err := await(ErrSubscribeFailed, c.client.Subscribe(topic, qos, c.wrapHandler(handler))); err != nil {
		c.untrack(topic)
		return err
	}
	return nil
}

// Unsubscribe drops the subscription for topic. Messages already in flight
// may still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.untrack(topic)
	return await(ErrSubscribeFailed, c.client.Unsubscribe(topic))
}

// SubscribeCommands listens on <prefix>/command/+ and passes each decoded
// command to handler. Refused and malformed commands are logged by the
// client and never reach handler.
func (c *Client) SubscribeCommands(qos byte, handler CommandHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil command handler", ErrSubscribeFailed)
	}
	topics := c.topics
	return c.Subscribe(topics.AllCommands(), qos, func(topic string, payload []byte) error {
		name, data, err := topics.DecodeCommand(topic, payload)
		if err != nil {
			return err
		}
		return handler(name, data)
	})
}

// UnsubscribeCommands undoes SubscribeCommands.
func (c *Client) UnsubscribeCommands() error {
	return c.Unsubscribe(c.topics.AllCommands())
}

// DecodeCommand turns a message on a command topic into an event name and
// payload. The payload may be empty, an event envelope (whose type is
// ignored in favour of the topic) or a bare JSON object.
func (t Topics) DecodeCommand(topic string, payload []byte) (string, map[string]any, error) {
	name, ok := t.CommandName(topic)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownCommand, topic)
	}
	if name == bus.ErrorEventName {
		return "", nil, fmt.Errorf("%w: %s is raised by the bus only", ErrCommandRefused, name)
	}
	data, err := commandData(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %w", ErrMalformedCommand, name, err)
	}
	return name, data, nil
}

func commandData(payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if env, err := bus.DecodeEnvelope(payload); err == nil {
		return env.Data, nil
	}
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) track(s subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscriptions[s.topic] = s
}

func (c *Client) untrack(topic string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subscriptions, topic)
}
