package wifi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/home-awareness/internal/bus"
	"github.com/nerrad567/home-awareness/internal/events"
	"github.com/nerrad567/home-awareness/internal/settings"
)

// Settings module and items owned by this package.
const (
	ModuleName  = "wifi"
	ItemToTrack = "to_track"
)

// Default timings.
const (
	DefaultScanInterval  = 30 * time.Second
	DefaultExitTimeout   = 600 * time.Second
	DefaultRetryAttempts = 3

	defaultRetryInterval = time.Second
)

// Fields returns the settings fields of the wifi module.
func Fields() []settings.Field {
	return []settings.Field{
		settings.TupleList(ItemToTrack, []string{"name", "mac"}, nil),
	}
}

// Logger defines the logging interface used by the Watcher.
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

// Publisher is the part of the event bus the Watcher needs.
type Publisher interface {
	Publish(name string, payload bus.Payload) (bool, error)
}

// Directory resolves tracked devices. *settings.Store satisfies it.
type Directory interface {
	Tuples(module, item string) ([][]string, error)
}

// Config holds the Watcher timings.
type Config struct {
	ScanInterval  time.Duration
	ExitTimeout   time.Duration
	RetryAttempts int
}

// Watcher polls a Source and turns sightings into presence events.
type Watcher struct {
	source    Source
	directory Directory
	publisher Publisher
	logger    Logger

	interval      time.Duration
	retries       int
	retryInterval time.Duration
	seen          *sightings
	now           func() time.Time
}

// NewWatcher creates a watcher. Zero timings fall back to the defaults.
func NewWatcher(source Source, directory Directory, publisher Publisher, cfg Config) *Watcher {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.ExitTimeout <= 0 {
		cfg.ExitTimeout = DefaultExitTimeout
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}

	return &Watcher{
		source:        source,
		directory:     directory,
		publisher:     publisher,
		logger:        noopLogger{},
		interval:      cfg.ScanInterval,
		retries:       cfg.RetryAttempts,
		retryInterval: defaultRetryInterval,
		seen:          newSightings(cfg.ExitTimeout),
		now:           time.Now,
	}
}

// SetLogger sets the logger for the watcher.
func (w *Watcher) SetLogger(logger Logger) {
	w.logger = logger
}

// Run publishes tracker.wifi.initialized and then scans every interval until
// ctx is cancelled. A failed scan is logged and the loop carries on.
//
// Returns nil when ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.publish(events.WifiInitialized, bus.Event{})
	w.logger.Info("wifi watcher started", "interval", w.interval, "exit_timeout", w.seen.exitTimeout)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.ScanOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("wifi scan failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("wifi watcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ScanOnce performs one scan round: scan (with retries), update sightings
// and publish enter/exit events for tracked devices.
func (w *Watcher) ScanOnce(ctx context.Context) error {
	macs, err := w.scan(ctx)
	if err != nil {
		return err
	}

	entered, left := w.seen.observe(w.now(), macs)
	w.logger.Debug("wifi scan complete",
		"visible", len(macs), "present", w.seen.present(),
		"entered", len(entered), "left", len(left))

	if len(entered) == 0 && len(left) == 0 {
		return nil
	}

	tracked, err := w.tracked()
	if err != nil {
		return err
	}

	for _, mac := range entered {
		if name, ok := tracked[mac]; ok {
			w.logger.Info("user entered", "user", name, "mac", mac)
			w.publish(events.UserEnter, events.UserEvent{Name: name, MAC: mac})
		}
	}
	for _, mac := range left {
		if name, ok := tracked[mac]; ok {
			w.logger.Info("user left", "user", name, "mac", mac)
			w.publish(events.UserExit, events.UserEvent{Name: name, MAC: mac})
		}
	}
	return nil
}

// scan calls the source, retrying with exponential backoff.
func (w *Watcher) scan(ctx context.Context) ([]string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.retryInterval
	policy.MaxElapsedTime = w.interval

	var macs []string
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		macs, err = w.source.Scan(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if err != nil {
			w.logger.Warn("wifi scan attempt failed", "attempt", attempt, "error", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(w.retries)), ctx))
	if err != nil {
		return nil, fmt.Errorf("scanning after %d attempts: %w", attempt, err)
	}
	return macs, nil
}

// tracked maps lower-cased MAC addresses to user names.
func (w *Watcher) tracked() (map[string]string, error) {
	pairs, err := w.directory.Tuples(ModuleName, ItemToTrack)
	if err != nil {
		return nil, fmt.Errorf("reading tracked devices: %w", err)
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(pair[1]))] = pair[0]
	}
	return out, nil
}

func (w *Watcher) publish(name string, payload bus.Payload) {
	if _, err := w.publisher.Publish(name, payload); err != nil {
		w.logger.Error("presence event handler failed", "event", name, "error", err)
	}
}
