package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/home-awareness/internal/audit"
)

// record appends an audit entry for a state change made by r. A failed
// write is logged and never fails the request.
func (s *Server) record(r *http.Request, action, target string, details map[string]any) {
	if s.audit == nil {
		return
	}

	subject, _ := r.Context().Value(ctxKeySubject).(string)
	entry := &audit.Entry{
		Action:  action,
		Target:  target,
		Subject: subject,
		Details: details,
	}
	if err := s.audit.Record(r.Context(), entry); err != nil {
		s.logger.Warn("recording audit entry failed",
			"action", action,
			"target", target,
			"error", err,
		)
	}
}

// handleListAudit returns audit entries, newest first.
//
// Query parameters: action, target, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit log is not available")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		Target: q.Get("target"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	page, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
