package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dhpke/nmos-core/internal/bridges/is07"
	"github.com/dhpke/nmos-core/internal/grain"
)

// maxRecentEvents caps the limit query parameter of /events/recent.
const maxRecentEvents = 1000

// PublishRequest is the body of POST /events/publish.
type PublishRequest struct {
	EventType string        `json:"event_type"`
	Topic     string        `json:"topic"`
	Data      []grain.Entry `json:"data"`
}

// bridge returns the node's event bridge, writing a 503 when events are
// disabled.
func (s *Server) bridge(w http.ResponseWriter) (*is07.Bridge, bool) {
	if s.node.Bridge == nil {
		writeUnavailable(w, "events are disabled on this node", "set events.enabled: true and configure mqtt")
		return nil, false
	}
	return s.node.Bridge, true
}

// handleRecentEvents returns classified command events, oldest first.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bridge(w)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxRecentEvents)
	}

	events := b.History().Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"events":    events,
		"count":     len(events),
		"capacity":  b.History().Cap(),
		"source_id": b.SourceID(),
		"stats":     b.Stats(),
	})
}

// handlePublishEvent emits a grain from the node's own event source.
func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bridge(w)
	if !ok {
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	for i, e := range req.Data {
		if e.Path == "" {
			writeBadRequest(w, "data["+strconv.Itoa(i)+"].path is required")
			return
		}
	}

	if !s.publish.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "event publish rate exceeded",
			"events.publish_rate caps grains per second from this API")
		return
	}

	g, err := b.Publish(req.EventType, req.Topic, req.Data)
	switch {
	case errors.Is(err, grain.ErrInvalidGrain):
		writeDomainError(w, err)
		return
	case err != nil:
		s.logger.Warn("event publish failed", "event_type", req.EventType, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error(), "check the MQTT broker connection")
		return
	}
	writeJSON(w, http.StatusAccepted, g)
}
