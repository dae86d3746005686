package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/home-awareness/internal/bus"
	"github.com/nerrad567/home-awareness/internal/events"
	"github.com/nerrad567/home-awareness/internal/settings"
)

// Settings module and items owned by this package.
const (
	ModuleName          = "audio"
	ItemHost            = "volumio_host"
	ItemPort            = "volumio_port"
	ItemResumeOnArrival = "resume_on_arrival"
)

// Fields returns the settings fields of the audio module.
func Fields() []settings.Field {
	return []settings.Field{
		settings.String(ItemHost, "volumio.local"),
		settings.Int(ItemPort, 3000),
		settings.Bool(ItemResumeOnArrival, false),
	}
}

// Settings is the part of the settings store the audio package reads.
type Settings interface {
	String(module, item string) (string, error)
	Int(module, item string) (int, error)
	Bool(module, item string) (bool, error)
}

// SettingsEndpoint builds the player address from the audio settings.
func SettingsEndpoint(s Settings) Endpoint {
	return func() (string, error) {
		host, err := s.String(ModuleName, ItemHost)
		if err != nil {
			return "", err
		}
		port, err := s.Int(ModuleName, ItemPort)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("http://%s:%d", host, port), nil
	}
}

// Logger defines the logging interface used by the Controller.
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

// Publisher is the part of the event bus the Controller publishes on.
type Publisher interface {
	Publish(name string, payload bus.Payload) (bool, error)
}

// Subscriber is the part of the event bus the Controller listens on.
type Subscriber interface {
	Subscribe(name string, h bus.Handler) bus.HandlerRef
}

// Reasons attached to player.state_changed.
const (
	ReasonHouseEmpty = "house_empty"
	ReasonArrival    = "arrival"
	ReasonRequest    = "request"
)

// Controller applies presence changes and API requests to a Player.
//
// All public methods are thread-safe.
type Controller struct {
	player    Player
	settings  Settings
	publisher Publisher
	logger    Logger

	mu   sync.RWMutex
	last State
	seen bool
}

// NewController creates a controller. settings may be nil, in which case
// playback is never resumed on arrival.
func NewController(player Player, settings Settings, publisher Publisher) *Controller {
	return &Controller{
		player:    player,
		settings:  settings,
		publisher: publisher,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// Subscribe registers the shutdown and initialize handlers. Both run as
// deferred tasks.
func (c *Controller) Subscribe(s Subscriber) []bus.HandlerRef {
	return []bus.HandlerRef{
		s.Subscribe(events.TrackingShutdown, bus.Async(c.onShutdown)),
		s.Subscribe(events.TrackingInitialize, bus.Async(c.onInitialize)),
	}
}

func (c *Controller) onShutdown(ctx context.Context, _ bus.Payload) error {
	c.logger.Info("house empty, pausing playback")
	return c.run(ctx, CommandPause, Arg{}, ReasonHouseEmpty)
}

func (c *Controller) onInitialize(ctx context.Context, _ bus.Payload) error {
	if !c.resumeOnArrival() {
		c.logger.Debug("resume on arrival disabled")
		return nil
	}
	c.logger.Info("first arrival, resuming playback")
	return c.run(ctx, CommandPlay, Arg{}, ReasonArrival)
}

func (c *Controller) resumeOnArrival() bool {
	if c.settings == nil {
		return false
	}
	on, err := c.settings.Bool(ModuleName, ItemResumeOnArrival)
	if err != nil {
		c.logger.Warn("reading resume_on_arrival", "error", err)
		return false
	}
	return on
}

// Command sends a command on behalf of an API client.
func (c *Controller) Command(ctx context.Context, cmd string, arg Arg) error {
	return c.run(ctx, cmd, arg, ReasonRequest)
}

// State fetches the player state. When the player cannot be reached, the
// last known state is returned together with the error.
func (c *Controller) State(ctx context.Context) (State, error) {
	s, err := c.player.State(ctx)
	if err != nil {
		last, _ := c.LastState()
		return last, err
	}
	c.mu.Lock()
	c.last, c.seen = s, true
	c.mu.Unlock()
	return s, nil
}

// LastState returns the most recently fetched state and whether there is one.
func (c *Controller) LastState() (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.seen
}

func (c *Controller) run(ctx context.Context, cmd string, arg Arg, reason string) error {
	if err := c.player.Command(ctx, cmd, arg); err != nil {
		return err
	}

	ev := events.PlayerStateEvent{Command: cmd, Reason: reason}
	if cmd == CommandVolume {
		ev.Volume = arg.Volume
	}
	if s, err := c.State(ctx); err == nil {
		ev.Status = s.Status
		if cmd != CommandVolume {
			ev.Volume = s.Volume
		}
	} else {
		c.logger.Debug("refreshing player state", "error", err)
	}

	if _, err := c.publisher.Publish(events.PlayerStateChanged, ev); err != nil {
		c.logger.Error("publishing player state failed", "error", err)
	}
	return nil
}
