package tracking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/home-awareness/internal/bus"
	"github.com/nerrad567/home-awareness/internal/events"
	"github.com/nerrad567/home-awareness/internal/settings"
)

// Settings module owned by this package.
const ModuleName = "tracking"

// Fields returns the settings fields of the tracking module.
func Fields() []settings.Field {
	return []settings.Field{
		settings.Choice("test_choice", "one", "one", "two", "three", "four"),
	}
}

// Logger defines the logging interface used by the Tracker.
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

// Publisher is the part of the event bus the Tracker publishes on.
type Publisher interface {
	Publish(name string, payload bus.Payload) (bool, error)
}

// Subscriber is the part of the event bus the Tracker listens on.
type Subscriber interface {
	Subscribe(name string, h bus.Handler) bus.HandlerRef
}

// OccupancyWriter receives every presence change for time-series storage.
// *influxdb.Client satisfies it.
type OccupancyWriter interface {
	WritePresence(user, kind string, occupancy int, at time.Time)
}

// User is a user currently at home.
type User struct {
	Name  string    `json:"name"`
	MAC   string    `json:"mac,omitempty"`
	Since time.Time `json:"time"`
}

// Tracker keeps the set of users at home.
//
// All public methods are thread-safe.
type Tracker struct {
	mu    sync.RWMutex
	users map[string]User

	publisher Publisher
	history   History
	occupancy OccupancyWriter
	logger    Logger
	now       func() time.Time
}

// NewTracker creates a tracker publishing on publisher. history and
// occupancy may be nil.
func NewTracker(publisher Publisher, history History, occupancy OccupancyWriter) *Tracker {
	return &Tracker{
		users:     make(map[string]User),
		publisher: publisher,
		history:   history,
		occupancy: occupancy,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	t.logger = logger
}

// Subscribe registers the enter and exit handlers.
func (t *Tracker) Subscribe(s Subscriber) []bus.HandlerRef {
	return []bus.HandlerRef{
		s.Subscribe(events.UserEnter, bus.HandlerFunc(t.handleEnter)),
		s.Subscribe(events.UserExit, bus.HandlerFunc(t.handleExit)),
	}
}

// CurrentUsers returns the users at home, earliest arrival first.
func (t *Tracker) CurrentUsers() []User {
	t.mu.RLock()
	out := make([]User, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, u)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Since.Equal(out[j].Since) {
			return out[i].Since.Before(out[j].Since)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Occupancy returns the number of users at home.
func (t *Tracker) Occupancy() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}

// Anyone reports whether at least one user is at home.
func (t *Tracker) Anyone() bool {
	return t.Occupancy() > 0
}

// handleEnter marks a user as present. The first arrival into an empty home
// publishes tracking.action.initialize. A user already present keeps the
// original arrival time.
func (t *Tracker) handleEnter(p bus.Payload) bus.Result {
	ev, err := userFrom(p)
	if err != nil {
		return bus.Fail(err)
	}

	at := t.now()
	t.mu.Lock()
	first := len(t.users) == 0
	if _, present := t.users[ev.Name]; !present {
		t.users[ev.Name] = User{Name: ev.Name, MAC: ev.MAC, Since: at}
	}
	occupancy := len(t.users)
	t.mu.Unlock()

	if first {
		t.logger.Info("first user entered, initializing", "user", ev.Name)
		t.publish(events.TrackingInitialize, bus.Event{Data: map[string]any{"user": ev.Name}})
	}

	return t.record(ev, KindEnter, occupancy, at)
}

// handleExit marks a user as gone. Shutdown is published only when a user
// who was present leaves an otherwise empty home.
func (t *Tracker) handleExit(p bus.Payload) bus.Result {
	ev, err := userFrom(p)
	if err != nil {
		return bus.Fail(err)
	}

	at := t.now()
	t.mu.Lock()
	_, present := t.users[ev.Name]
	delete(t.users, ev.Name)
	occupancy := len(t.users)
	t.mu.Unlock()

	if !present {
		t.logger.Debug("exit for user not at home", "user", ev.Name)
		return bus.Done()
	}

	if occupancy == 0 {
		t.logger.Info("last user left, shutting down", "user", ev.Name)
		t.publish(events.TrackingShutdown, bus.Event{Data: map[string]any{"user": ev.Name}})
	}

	return t.record(ev, KindExit, occupancy, at)
}

// record writes the change to the occupancy series inline and defers the
// history insert to the scheduler.
func (t *Tracker) record(ev events.UserEvent, kind string, occupancy int, at time.Time) bus.Result {
	if t.occupancy != nil {
		t.occupancy.WritePresence(ev.Name, kind, occupancy, at)
	}
	if t.history == nil {
		return bus.Done()
	}

	p := Presence{User: ev.Name, MAC: ev.MAC, Kind: kind, Occupancy: occupancy, OccurredAt: at}
	return bus.Later(func(ctx context.Context) error {
		return t.history.Record(ctx, p)
	})
}

func (t *Tracker) publish(name string, payload bus.Payload) {
	if _, err := t.publisher.Publish(name, payload); err != nil {
		t.logger.Error("publishing tracking action failed", "event", name, "error", err)
	}
}

// userFrom extracts the user from a presence payload.
func userFrom(p bus.Payload) (events.UserEvent, error) {
	var ev events.UserEvent
	switch v := p.(type) {
	case events.UserEvent:
		ev = v
	case *events.UserEvent:
		if v != nil {
			ev = *v
		}
	default:
		data := bus.PayloadData(p)
		ev.Name, _ = data["user"].(string)
		ev.MAC, _ = data["mac"].(string)
	}

	ev.Name = strings.TrimSpace(ev.Name)
	if ev.Name == "" {
		return ev, fmt.Errorf("%w: %v", ErrMissingUser, p)
	}
	return ev, nil
}
