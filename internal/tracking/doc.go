// Package tracking turns user arrivals and departures into whole-home
// actions.
//
// The Tracker subscribes to tracking.event.user_enter and
// tracking.event.user_exit. When the first user arrives it publishes
// tracking.action.initialize; when the last tracked user leaves it publishes
// tracking.action.shutdown. Every change is recorded in the presence history
// (SQLite, written from a deferred handler) and, when configured, in the
// occupancy time series.
//
// Payloads may be events.UserEvent values or maps carrying "user" and "mac"
// keys, as produced by decoded MQTT and WebSocket envelopes.
package tracking
