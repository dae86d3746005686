package alarm

import "errors"

var (
	// ErrNotFound is returned when no alarm has the given ID.
	ErrNotFound = errors.New("alarm: not found")

	// ErrInvalidSpec is returned for a cron spec that cannot be parsed.
	ErrInvalidSpec = errors.New("alarm: invalid cron spec")

	// ErrLabelRequired is returned when an alarm has no label.
	ErrLabelRequired = errors.New("alarm: label is required")
)
