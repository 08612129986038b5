package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a saved set of routes.
type Snapshot struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Routes      []SnapshotRoute `json:"routes"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SnapshotRoute is one saved cross-point. Labels are kept for display only;
// loading matches on IDs.
type SnapshotRoute struct {
	SenderID      string `json:"sender_id"`
	SenderLabel   string `json:"sender_label,omitempty"`
	ReceiverID    string `json:"receiver_id"`
	ReceiverLabel string `json:"receiver_label,omitempty"`
}

// EntryResult is the outcome of restoring one snapshot route.
type EntryResult struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Status     string `json:"status"` // "applied", "failed" or "invalid"
	Error      string `json:"error,omitempty"`
}

// Entry outcomes.
const (
	EntryApplied = "applied"
	EntryFailed  = "failed"
	EntryInvalid = "invalid"
)

// LoadResult summarises a snapshot restore.
type LoadResult struct {
	Snapshot      string        `json:"snapshot"`
	ValidRoutes   int           `json:"valid_routes"`
	InvalidRoutes int           `json:"invalid_routes"`
	Applied       int           `json:"applied"`
	Failed        int           `json:"failed"`
	Entries       []EntryResult `json:"entries"`
}

// SnapshotRepository persists snapshots.
type SnapshotRepository interface {
	Create(ctx context.Context, s *Snapshot) error
	GetByName(ctx context.Context, name string) (*Snapshot, error)
	List(ctx context.Context) ([]Snapshot, error)
	Delete(ctx context.Context, name string) error
}

// BuildSnapshot captures the current routes with their display labels.
func (r *Reconciler) BuildSnapshot(name, description string) (*Snapshot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: snapshot name is required", ErrInvalidRoute)
	}

	m := r.Matrix()
	labels := make(map[string]string, len(m.Senders)+len(m.Receivers))
	for _, s := range m.Senders {
		labels[s.ID] = s.Label
	}
	for _, rcv := range m.Receivers {
		labels[rcv.ID] = rcv.Label
	}

	snap := &Snapshot{
		ID:          "snap-" + uuid.NewString()[:8],
		Name:        name,
		Description: description,
		Routes:      make([]SnapshotRoute, 0, len(m.Routes)),
		CreatedAt:   time.Now().UTC(),
	}
	for _, rt := range m.Routes {
		snap.Routes = append(snap.Routes, SnapshotRoute{
			SenderID:      rt.SenderID,
			SenderLabel:   labels[rt.SenderID],
			ReceiverID:    rt.ReceiverID,
			ReceiverLabel: labels[rt.ReceiverID],
		})
	}
	return snap, nil
}

// SaveSnapshot captures the current routes and persists them.
func (r *Reconciler) SaveSnapshot(ctx context.Context, name, description string) (*Snapshot, error) {
	if r.snapshots == nil {
		return nil, ErrNoRepository
	}
	snap, err := r.BuildSnapshot(name, description)
	if err != nil {
		return nil, err
	}
	if err := r.snapshots.Create(ctx, snap); err != nil {
		return nil, err
	}
	r.logger.Info("snapshot saved", "name", snap.Name, "routes", len(snap.Routes))
	return snap, nil
}

// LoadSnapshot restores a persisted snapshot by name.
func (r *Reconciler) LoadSnapshot(ctx context.Context, name string) (*LoadResult, error) {
	if r.snapshots == nil {
		return nil, ErrNoRepository
	}
	snap, err := r.snapshots.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.ApplySnapshot(ctx, snap), nil
}

// ApplySnapshot validates every entry against the current sender and
// receiver lists, skips the invalid ones, and routes the rest one by one.
// Failures of individual entries do not stop the restore.
func (r *Reconciler) ApplySnapshot(ctx context.Context, snap *Snapshot) *LoadResult {
	m := r.Matrix()
	senders := make(map[string]bool, len(m.Senders))
	for _, s := range m.Senders {
		senders[s.ID] = true
	}
	receivers := make(map[string]bool, len(m.Receivers))
	for _, rcv := range m.Receivers {
		receivers[rcv.ID] = true
	}

	res := &LoadResult{Snapshot: snap.Name, Entries: make([]EntryResult, 0, len(snap.Routes))}
	var valid []SnapshotRoute
	for _, rt := range snap.Routes {
		entry := EntryResult{SenderID: rt.SenderID, ReceiverID: rt.ReceiverID}
		switch {
		case !senders[rt.SenderID]:
			entry.Status = EntryInvalid
			entry.Error = "sender not found"
		case !receivers[rt.ReceiverID]:
			entry.Status = EntryInvalid
			entry.Error = "receiver not found"
		default:
			valid = append(valid, rt)
			continue
		}
		res.InvalidRoutes++
		res.Entries = append(res.Entries, entry)
	}
	res.ValidRoutes = len(valid)

	// Once ctx is done the remaining routes are reported failed without being
	// attempted, so Applied+Failed always equals ValidRoutes.
	for _, rt := range valid {
		entry := EntryResult{SenderID: rt.SenderID, ReceiverID: rt.ReceiverID, Status: EntryApplied}
		err := ctx.Err()
		if err == nil {
			err = r.ExecuteRoute(ctx, OpRoute, rt.SenderID, rt.ReceiverID)
		}
		if err != nil {
			entry.Status = EntryFailed
			entry.Error = err.Error()
			res.Failed++
		} else {
			res.Applied++
		}
		res.Entries = append(res.Entries, entry)
	}

	r.logger.Info("snapshot loaded",
		"name", snap.Name,
		"valid", res.ValidRoutes,
		"invalid", res.InvalidRoutes,
		"applied", res.Applied,
		"failed", res.Failed,
	)
	return res
}

// ListSnapshots returns all persisted snapshots, newest first.
func (r *Reconciler) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	if r.snapshots == nil {
		return nil, ErrNoRepository
	}
	return r.snapshots.List(ctx)
}

// DeleteSnapshot removes a persisted snapshot.
func (r *Reconciler) DeleteSnapshot(ctx context.Context, name string) error {
	if r.snapshots == nil {
		return ErrNoRepository
	}
	return r.snapshots.Delete(ctx, name)
}
