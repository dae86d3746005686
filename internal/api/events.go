package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/home-awareness/internal/audit"
	"github.com/nerrad567/home-awareness/internal/bus"
)

// publishResponse is the body returned by POST /events/{name}.
type publishResponse struct {
	Event   string `json:"event"`
	Handled bool   `json:"handled"`
}

// handlePublishEvent publishes a bus event. The optional JSON object body
// becomes the event's data bag.
//
// The "error" event is reserved for handler failures and is refused.
func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		writeBadRequest(w, "event name is required")
		return
	}
	if name == bus.ErrorEventName {
		writeBadRequest(w, "the error event is reserved")
		return
	}

	var data map[string]any
	if !decodeBody(w, r, &data, true) {
		return
	}

	s.logger.Debug("publishing event from api",
		"event", name,
		"subject", r.Context().Value(ctxKeySubject),
		"request_id", r.Context().Value(ctxKeyRequestID),
	)

	handled, err := s.bus.Publish(name, bus.Event{Data: data})
	if err != nil {
		s.logger.Error("event handler failed", "event", name, "error", err)
		writeInternalError(w, "event handler failed")
		return
	}
	s.record(r, audit.ActionEventPublish, name, data)
	writeJSON(w, http.StatusAccepted, publishResponse{Event: name, Handled: handled})
}
