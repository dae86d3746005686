// Package api implements the HTTP REST API and WebSocket server for the
// Home Awareness hub.
//
// This package provides:
//   - REST endpoints for presence, settings, the media player and alarms
//   - An endpoint that publishes arbitrary events onto the bus
//   - A WebSocket hub that relays bus events to subscribed clients and
//     publishes client messages onto the bus
//   - Prometheus metrics and a JSON status snapshot
//   - Middleware stack (request ID, logging, recovery, CORS, body limit,
//     per-client rate limiting)
//   - TLS support for production deployments
//
// # Security
//
// Read-only routes are open. Routes that change state, including the
// WebSocket endpoint, require an HS256 bearer token signed with
// security.jwt.secret. Tokens are issued offline by the "homeaware token"
// command.
//
// # Graceful Degradation
//
// Every collaborator except the bus is optional. A route whose collaborator
// is missing answers 503, so the hub runs with the media player, alarms or
// MQTT switched off.
package api
