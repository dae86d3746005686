package alarm

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var specParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Alarm is a scheduled alarm.
type Alarm struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Spec      string     `json:"spec"`
	Once      bool       `json:"once"`
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
	LastFired *time.Time `json:"last_fired,omitempty"`

	// NextFire is computed, never stored.
	NextFire time.Time `json:"next_fire"`
}

// ParseSpec parses a five-field cron spec or descriptor.
func ParseSpec(spec string) (cron.Schedule, error) {
	clean := strings.TrimSpace(spec)
	if clean == "" {
		return nil, fmt.Errorf("%w: spec is required", ErrInvalidSpec)
	}
	schedule, err := specParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	return schedule, nil
}

// next returns the first fire time after the alarm was created or last
// fired.
func (a Alarm) next(schedule cron.Schedule) time.Time {
	base := a.CreatedAt
	if a.LastFired != nil {
		base = *a.LastFired
	}
	return schedule.Next(base)
}
