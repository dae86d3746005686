// Package audio drives the house media player from presence changes.
//
// The Volumio client talks to the player's REST API (/api/v1/commands and
// /api/v1/getState). Every request runs behind a circuit breaker and is
// retried with exponential backoff, so a player that is switched off costs
// one fast failure instead of a stalled handler.
//
// The Controller subscribes to the tracking actions: the house emptying
// pauses playback, and the first arrival resumes it when the
// audio.resume_on_arrival setting is on. Both run as deferred handlers.
// Every command carried out is announced as player.state_changed.
package audio
