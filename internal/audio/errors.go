package audio

import "errors"

var (
	// ErrUnknownCommand is returned for a command the player does not support.
	ErrUnknownCommand = errors.New("audio: unknown command")

	// ErrInvalidVolume is returned for a volume outside 0-100.
	ErrInvalidVolume = errors.New("audio: volume must be between 0 and 100")

	// ErrMissingArgument is returned for a queue or playlist command without
	// its uri or playlist name.
	ErrMissingArgument = errors.New("audio: command argument missing")

	// ErrPlayerUnavailable is returned while the circuit breaker is open.
	ErrPlayerUnavailable = errors.New("audio: player unavailable")

	// ErrRequestFailed is returned when the player answers with an error.
	ErrRequestFailed = errors.New("audio: request failed")
)
