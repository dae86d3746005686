package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/home-awareness/internal/audio"
	"github.com/nerrad567/home-awareness/internal/audit"
)

// playerRequest is the optional body of POST /player/{command}. value is
// the volume level, uri the track add_to_queue appends and playlist the
// name play_playlist and enqueue_playlist load.
type playerRequest struct {
	Value    *int   `json:"value" validate:"omitempty,min=0,max=100"`
	URI      string `json:"uri" validate:"omitempty,max=2048"`
	Playlist string `json:"playlist" validate:"omitempty,max=255"`
}

func (r playerRequest) arg() audio.Arg {
	arg := audio.Arg{URI: r.URI, Playlist: r.Playlist}
	if r.Value != nil {
		arg.Volume = *r.Value
	}
	return arg
}

func (r playerRequest) details() map[string]any {
	details := map[string]any{}
	if r.Value != nil {
		details["value"] = *r.Value
	}
	if r.URI != "" {
		details["uri"] = r.URI
	}
	if r.Playlist != "" {
		details["playlist"] = r.Playlist
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

var playerFailed = Error{Status: http.StatusBadGateway, Code: ErrCodeBadGateway, Message: "media player request failed"}

// handlePlayerState returns the media player state.
func (s *Server) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeUnavailable(w, "media player is not configured")
		return
	}

	state, err := s.player.State(r.Context())
	if err != nil {
		s.logger.Warn("fetching player state", "error", err)
		writeDomainError(w, err, playerFailed)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handlePlayerCommand sends a command to the media player. volume needs a
// value between 0 and 100, add_to_queue a uri and the playlist commands a
// playlist name.
func (s *Server) handlePlayerCommand(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeUnavailable(w, "media player is not configured")
		return
	}

	command := chi.URLParam(r, "command")
	if !audio.IsCommand(command) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown player command: "+command)
		return
	}

	var req playerRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	if command == audio.CommandVolume && req.Value == nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "value: required")
		return
	}
	arg := req.arg()
	if err := audio.ValidateCommand(command, arg); err != nil {
		writeDomainError(w, err, playerFailed)
		return
	}

	if err := s.player.Command(r.Context(), command, arg); err != nil {
		s.logger.Warn("player command failed", "command", command, "error", err)
		writeDomainError(w, err, playerFailed)
		return
	}
	s.record(r, audit.ActionPlayerCommand, command, req.details())
	writeJSON(w, http.StatusOK, map[string]any{
		"command": command,
		"status":  "ok",
	})
}
