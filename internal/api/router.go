package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)

		// Monitoring (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/status", s.handleStatus)

		// Read-only views
		r.Get("/tracking", s.handleListUsers)
		r.Get("/tracking/history", s.handlePresenceHistory)
		r.Get("/config", s.handleGetConfig)
		r.Get("/config/{module}/{item}", s.handleGetSetting)
		r.Get("/player", s.handlePlayerState)
		r.Get("/alarms", s.handleListAlarms)

		// Mutating routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Put("/config", s.handleUpdateConfig)
			r.Put("/config/{module}/{item}", s.handleSetSetting)
			r.Post("/player/{command}", s.handlePlayerCommand)
			r.Post("/events/{name}", s.handlePublishEvent)
			r.Post("/alarms", s.handleCreateAlarm)
			r.Delete("/alarms/{id}", s.handleDeleteAlarm)
			r.Get("/audit", s.handleListAudit)

			// WebSocket clients publish onto the bus, so they authenticate too.
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
