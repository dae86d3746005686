package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/home-awareness/internal/audit"
)

// settingRequest is the body of PUT /config/{module}/{item}.
type settingRequest struct {
	Value any `json:"value"`
}

// handleGetConfig returns every registered settings module with its fields.
func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	if s.settings == nil {
		writeUnavailable(w, "settings are not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": s.settings.Modules()})
}

// handleUpdateConfig applies a partial update of the form
// {"module": {"item": value}}. Unknown modules and values of the wrong
// type are skipped; the resulting configuration is returned.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeUnavailable(w, "settings are not available")
		return
	}

	var update map[string]map[string]any
	if !decodeBody(w, r, &update, false) {
		return
	}
	if len(update) == 0 {
		writeBadRequest(w, "update must name at least one module")
		return
	}

	if err := s.settings.Update(r.Context(), update); err != nil {
		s.logger.Error("updating settings", "error", err)
		writeInternalError(w, "failed to save settings")
		return
	}
	for module, items := range update {
		s.record(r, audit.ActionConfigUpdate, module, items)
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": s.settings.Modules()})
}

// handleGetSetting returns a single setting value.
func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeUnavailable(w, "settings are not available")
		return
	}

	module, item := chi.URLParam(r, "module"), chi.URLParam(r, "item")
	value, err := s.settings.Get(module, item)
	if err != nil {
		writeDomainError(w, err, internalError("failed to access settings"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"module": module,
		"item":   item,
		"value":  value,
	})
}

// handleSetSetting validates, stores and announces a single setting value.
func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeUnavailable(w, "settings are not available")
		return
	}

	var req settingRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	module, item := chi.URLParam(r, "module"), chi.URLParam(r, "item")
	if err := s.settings.Set(r.Context(), module, item, req.Value); err != nil {
		writeDomainError(w, err, internalError("failed to access settings"))
		return
	}

	value, err := s.settings.Get(module, item)
	if err != nil {
		writeDomainError(w, err, internalError("failed to access settings"))
		return
	}
	s.record(r, audit.ActionConfigUpdate, module, map[string]any{item: value})
	writeJSON(w, http.StatusOK, map[string]any{
		"module": module,
		"item":   item,
		"value":  value,
	})
}
