package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dhpke/nmos-core/internal/audit"
)

func (s *Server) handleRegistrationStatus(w http.ResponseWriter, _ *http.Request) {
	if s.node.Registrar == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"enabled": false,
			"node_id": s.node.NodeID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": true,
		"status":  s.node.Registrar.Status(),
	})
}

// handleReregister re-POSTs every resource now instead of waiting for the
// heartbeat loop to notice a lost registration.
func (s *Server) handleReregister(w http.ResponseWriter, r *http.Request) {
	if s.node.Registrar == nil {
		writeUnavailable(w, "registration is disabled on this node", "set registration.enabled: true")
		return
	}
	if err := s.node.Registrar.RegisterAll(r.Context()); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if s.node.Audit != nil {
		s.node.Audit.Record(r.Context(), "register", "node", s.node.NodeID, nil)
	}
	writeJSON(w, http.StatusOK, s.node.Registrar.Status())
}

// handleListAudit returns audit entries, newest first.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.node.AuditLog == nil {
		writeUnavailable(w, "audit trail is not available", "configure database.path")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Actor:      q.Get("actor"),
		Outcome:    q.Get("outcome"),
	}
	switch filter.Outcome {
	case "", audit.OutcomeOK, audit.OutcomeFailed:
	default:
		writeBadRequest(w, "outcome must be ok or failed")
		return
	}
	for key, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, key+" must be an RFC 3339 timestamp")
			return
		}
		*dst = t
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, key+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.node.AuditLog.List(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
