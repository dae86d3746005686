package alarm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/home-awareness/internal/bus"
	"github.com/nerrad567/home-awareness/internal/events"
)

// DefaultPollInterval is how often the Scheduler checks for due alarms.
const DefaultPollInterval = time.Second

// Logger defines the logging interface used by the Scheduler.
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

// Publisher is the part of the event bus the Scheduler publishes on.
type Publisher interface {
	Publish(name string, payload bus.Payload) (bool, error)
}

// Scheduler fires stored alarms when they are due.
//
// All public methods are thread-safe.
type Scheduler struct {
	repo      Repository
	publisher Publisher
	logger    Logger
	interval  time.Duration
	now       func() time.Time

	// mu serialises due checks so that no alarm fires twice.
	mu sync.Mutex
}

// NewScheduler creates a scheduler. A zero interval uses
// DefaultPollInterval.
func NewScheduler(repo Repository, publisher Publisher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{
		repo:      repo,
		publisher: publisher,
		logger:    noopLogger{},
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// Create validates and stores a new enabled alarm.
//
// Returns ErrLabelRequired or ErrInvalidSpec without storing anything.
func (s *Scheduler) Create(ctx context.Context, label, spec string, once bool) (Alarm, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Alarm{}, ErrLabelRequired
	}
	schedule, err := ParseSpec(spec)
	if err != nil {
		return Alarm{}, err
	}

	a := Alarm{
		ID:        uuid.NewString(),
		Label:     label,
		Spec:      strings.TrimSpace(spec),
		Once:      once,
		Enabled:   true,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return Alarm{}, err
	}
	a.NextFire = a.next(schedule)

	s.logger.Info("alarm created", "id", a.ID, "label", a.Label, "spec", a.Spec, "next", a.NextFire)
	return a, nil
}

// Delete removes an alarm. Returns ErrNotFound for an unknown ID.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("alarm deleted", "id", id)
	return nil
}

// List returns every alarm with its next fire time filled in.
func (s *Scheduler) List(ctx context.Context) ([]Alarm, error) {
	alarms, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range alarms {
		if schedule, err := ParseSpec(alarms[i].Spec); err == nil {
			alarms[i].NextFire = alarms[i].next(schedule)
		}
	}
	return alarms, nil
}

// Run checks for due alarms every poll interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("alarm scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunDue(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("checking alarms failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("alarm scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunDue fires every enabled alarm whose next fire time has passed and
// returns how many fired. Alarms with an unparsable spec are skipped.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alarms, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	fired := 0
	for _, a := range alarms {
		if !a.Enabled {
			continue
		}
		schedule, err := ParseSpec(a.Spec)
		if err != nil {
			s.logger.Warn("skipping alarm with invalid spec", "id", a.ID, "error", err)
			continue
		}
		if a.next(schedule).After(now) {
			continue
		}

		if err := s.fire(ctx, a, now); err != nil {
			return fired, err
		}
		fired++
	}
	return fired, nil
}

// fire persists the firing, then announces it.
func (s *Scheduler) fire(ctx context.Context, a Alarm, now time.Time) error {
	if a.Once {
		if err := s.repo.Delete(ctx, a.ID); err != nil {
			return fmt.Errorf("removing one-shot alarm %s: %w", a.ID, err)
		}
	} else if err := s.repo.MarkFired(ctx, a.ID, now); err != nil {
		return fmt.Errorf("marking alarm %s: %w", a.ID, err)
	}

	s.logger.Info("alarm triggered", "id", a.ID, "label", a.Label)
	ev := events.AlarmEvent{ID: a.ID, Label: a.Label, Spec: a.Spec, Once: a.Once, FiredAt: now}
	if _, err := s.publisher.Publish(events.AlarmTriggered, ev); err != nil {
		s.logger.Error("alarm handler failed", "id", a.ID, "error", err)
	}
	return nil
}
