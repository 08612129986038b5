package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dhpke/nmos-core/internal/routing"
)

// RouteRequest is the body of POST /routing/route and /routing/disconnect.
type RouteRequest struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
}

// SnapshotRequest is the body of POST /snapshots.
type SnapshotRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// reconciler returns the node's reconciler, writing a 503 when routing is
// disabled.
func (s *Server) reconciler(w http.ResponseWriter) (*routing.Reconciler, bool) {
	if s.node.Reconciler == nil {
		writeUnavailable(w, "routing is disabled on this node", "set routing.enabled: true in the node configuration")
		return nil, false
	}
	return s.node.Reconciler, true
}

func (s *Server) handleMatrix(w http.ResponseWriter, _ *http.Request) {
	rec, ok := s.reconciler(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec.Matrix())
}

// handleRefresh polls the registry now. The refresh status is part of the
// returned matrix whether or not the refresh succeeded.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.reconciler(w)
	if !ok {
		return
	}
	if err := rec.Refresh(r.Context()); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Matrix())
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	s.executeRoute(w, r, routing.OpRoute)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.executeRoute(w, r, routing.OpDisconnect)
}

func (s *Server) executeRoute(w http.ResponseWriter, r *http.Request, op routing.Op) {
	rec, ok := s.reconciler(w)
	if !ok {
		return
	}

	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	if err := rec.ExecuteRoute(r.Context(), op, req.SenderID, req.ReceiverID); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	m := rec.Matrix()
	sender, _ := m.RouteOf(req.ReceiverID)
	writeJSON(w, http.StatusOK, map[string]any{
		"op":          op,
		"receiver_id": req.ReceiverID,
		"sender_id":   sender,
	})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.reconciler(w)
	if !ok {
		return
	}
	snaps, err := rec.ListSnapshots(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []routing.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}

func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.reconciler(w)
	if !ok {
		return
	}

	var req SnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	snap, err := rec.SaveSnapshot(r.Context(), req.Name, req.Description)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.audit(r.Context(), "snapshot_save", snap.Name, map[string]any{"routes": len(snap.Routes)})
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.reconciler(w)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if err := rec.DeleteSnapshot(r.Context(), name); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.audit(r.Context(), "snapshot_delete", name, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleLoadSnapshot restores a snapshot. Per-entry failures are reported
// in the body; the request itself only fails when the snapshot cannot be
// read.
func (s *Server) handleLoadSnapshot(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.reconciler(w)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	result, err := rec.LoadSnapshot(r.Context(), name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.audit(r.Context(), "snapshot_load", name, map[string]any{
		"applied": result.Applied,
		"failed":  result.Failed,
		"invalid": result.InvalidRoutes,
	})
	writeJSON(w, http.StatusOK, result)
}

// audit records a snapshot operation when the node keeps an audit trail.
func (s *Server) audit(ctx context.Context, action, name string, details map[string]any) {
	if s.node.Audit == nil {
		return
	}
	s.node.Audit.Record(ctx, action, "snapshot", name, details)
}
