package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/home-awareness/internal/tracking"
)

// trackingResponse is the body of GET /tracking.
type trackingResponse struct {
	Occupancy int             `json:"occupancy"`
	Users     []tracking.User `json:"users"`
}

// handleListUsers returns the users currently at home, longest present first.
func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	if s.presence == nil {
		writeUnavailable(w, "presence tracking is not available")
		return
	}

	users := s.presence.CurrentUsers()
	if users == nil {
		users = []tracking.User{}
	}
	writeJSON(w, http.StatusOK, trackingResponse{
		Occupancy: len(users),
		Users:     users,
	})
}

// handlePresenceHistory returns recent presence changes, newest first.
//
// Query parameters:
//   - user: only this user's changes (optional)
//   - limit: number of entries, clamped to the history maximum
func (s *Server) handlePresenceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "presence history is not available")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), r.URL.Query().Get("user"), limit)
	if err != nil {
		s.logger.Error("reading presence history", "error", err)
		writeInternalError(w, "failed to read presence history")
		return
	}
	if entries == nil {
		entries = []tracking.Presence{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"history": entries,
		"count":   len(entries),
	})
}
