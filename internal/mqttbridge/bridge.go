package mqttbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/home-awareness/internal/bus"
	"github.com/nerrad567/home-awareness/internal/events"
	"github.com/nerrad567/home-awareness/internal/infrastructure/mqtt"
	"github.com/nerrad567/home-awareness/internal/tracking"
)

// Logger defines the logging interface used by the Bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Broker is the MQTT client the bridge needs. *mqtt.Client satisfies it.
type Broker interface {
	PublishEnvelope(name string, data map[string]any, qos byte) error
	PublishRetained(topic string, v any, qos byte) error
	SubscribeCommands(qos byte, handler mqtt.CommandHandler) error
	UnsubscribeCommands() error
	Topics() mqtt.Topics
}

// EventBus is the part of the bus the bridge uses. *bus.Bus satisfies it.
type EventBus interface {
	Subscribe(name string, h bus.Handler) bus.HandlerRef
	Attach(name string, ref bus.HandlerRef) error
	Unsubscribe(name string, ref bus.HandlerRef)
	Publish(name string, payload bus.Payload) (bool, error)
}

// Presence reports who is home. *tracking.Tracker satisfies it.
type Presence interface {
	CurrentUsers() []tracking.User
}

// Config selects what the bridge mirrors.
type Config struct {
	QoS           byte
	ForwardEvents []string
}

// PresenceState is the retained presence snapshot.
type PresenceState struct {
	Occupancy int             `json:"occupancy"`
	Users     []tracking.User `json:"users"`
	Timestamp string          `json:"timestamp"`
}

type subscription struct {
	name string
	ref  bus.HandlerRef
}

// Bridge connects the bus and an MQTT broker.
type Bridge struct {
	broker   Broker
	bus      EventBus
	presence Presence
	cfg      Config
	topics   mqtt.Topics
	logger   Logger

	mu      sync.Mutex
	subs    []subscription
	started bool
}

// New creates a bridge. presence may be nil, in which case no presence
// snapshot is published.
func New(broker Broker, b EventBus, presence Presence, cfg Config) *Bridge {
	return &Bridge{
		broker:   broker,
		bus:      b,
		presence: presence,
		cfg:      cfg,
		topics:   broker.Topics(),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the bridge.
func (br *Bridge) SetLogger(logger Logger) {
	br.logger = logger
}

// Start subscribes to the forwarded events and the command topics, and
// publishes the initial presence snapshot. Calling Start twice is a no-op.
func (br *Bridge) Start(ctx context.Context) error {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.started {
		return nil
	}

	if err := br.broker.SubscribeCommands(br.cfg.QoS, br.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	for _, name := range br.cfg.ForwardEvents {
		ref := br.bus.Subscribe(name, bus.Async(br.forwarder(name)))
		br.subs = append(br.subs, subscription{name, ref})
	}

	if br.presence != nil {
		ref := br.bus.Subscribe(events.UserEnter, bus.Async(br.onPresence))
		br.subs = append(br.subs, subscription{events.UserEnter, ref})
		if err := br.bus.Attach(events.UserExit, ref); err != nil {
			return fmt.Errorf("attaching presence handler: %w", err)
		}
		br.subs = append(br.subs, subscription{events.UserExit, ref})

		if err := br.PublishPresence(ctx); err != nil {
			br.logger.Warn("publishing initial presence state failed", "error", err)
		}
	}

	br.started = true
	br.logger.Info("mqtt bridge started",
		"forwarded_events", len(br.cfg.ForwardEvents),
		"commands", br.topics.AllCommands())
	return nil
}

// Stop removes the bridge's bus handlers and command subscription.
func (br *Bridge) Stop() error {
	br.mu.Lock()
	defer br.mu.Unlock()
	if !br.started {
		return nil
	}

	for _, s := range br.subs {
		br.bus.Unsubscribe(s.name, s.ref)
	}
	br.subs = nil
	br.started = false

	if err := br.broker.UnsubscribeCommands(); err != nil {
		return fmt.Errorf("unsubscribing from commands: %w", err)
	}
	return nil
}

// forwarder returns the deferred handler mirroring event name.
func (br *Bridge) forwarder(name string) func(context.Context, bus.Payload) error {
	return func(_ context.Context, p bus.Payload) error {
		if err := br.broker.PublishEnvelope(name, bus.PayloadData(p), br.cfg.QoS); err != nil {
			return fmt.Errorf("forwarding %s: %w", name, err)
		}
		return nil
	}
}

func (br *Bridge) onPresence(ctx context.Context, _ bus.Payload) error {
	return br.PublishPresence(ctx)
}

// PublishPresence publishes the retained presence snapshot.
func (br *Bridge) PublishPresence(_ context.Context) error {
	users := br.presence.CurrentUsers()
	state := PresenceState{
		Occupancy: len(users),
		Users:     users,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := br.broker.PublishRetained(br.topics.PresenceState(), state, br.cfg.QoS); err != nil {
		return fmt.Errorf("publishing presence state: %w", err)
	}
	return nil
}

// handleCommand republishes a decoded MQTT command on the bus.
func (br *Bridge) handleCommand(name string, data map[string]any) error {
	br.logger.Debug("mqtt command received", "event", name)
	if _, err := br.bus.Publish(name, bus.Event{Data: data}); err != nil {
		return fmt.Errorf("publishing %s: %w", name, err)
	}
	return nil
}
