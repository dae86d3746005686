package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/home-awareness/internal/alarm"
	"github.com/nerrad567/home-awareness/internal/audit"
)

// createAlarmRequest is the body of POST /alarms.
type createAlarmRequest struct {
	Label string `json:"label" validate:"required,max=100"`
	Spec  string `json:"spec" validate:"required"`
	Once  bool   `json:"once"`
}

// handleListAlarms returns every alarm with its next fire time.
func (s *Server) handleListAlarms(w http.ResponseWriter, r *http.Request) {
	if s.alarms == nil {
		writeUnavailable(w, "alarms are not enabled")
		return
	}

	alarms, err := s.alarms.List(r.Context())
	if err != nil {
		s.logger.Error("listing alarms", "error", err)
		writeInternalError(w, "failed to list alarms")
		return
	}
	if alarms == nil {
		alarms = []alarm.Alarm{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alarms": alarms,
		"count":  len(alarms),
	})
}

// handleCreateAlarm schedules a new alarm.
func (s *Server) handleCreateAlarm(w http.ResponseWriter, r *http.Request) {
	if s.alarms == nil {
		writeUnavailable(w, "alarms are not enabled")
		return
	}

	var req createAlarmRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	a, err := s.alarms.Create(r.Context(), req.Label, req.Spec, req.Once)
	if err != nil {
		writeDomainError(w, err, internalError("alarm operation failed"))
		return
	}
	s.record(r, audit.ActionAlarmCreate, a.ID, map[string]any{
		"label": a.Label,
		"spec":  a.Spec,
		"once":  a.Once,
	})
	writeJSON(w, http.StatusCreated, a)
}

// handleDeleteAlarm removes an alarm.
func (s *Server) handleDeleteAlarm(w http.ResponseWriter, r *http.Request) {
	if s.alarms == nil {
		writeUnavailable(w, "alarms are not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.alarms.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err, internalError("alarm operation failed"))
		return
	}
	s.record(r, audit.ActionAlarmDelete, id, nil)
	w.WriteHeader(http.StatusNoContent)
}
