package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timestampLayout is fixed-width so created_at sorts lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// snapshotColumns is the column list for route_snapshots SELECTs.
const snapshotColumns = `id, name, description, routes, created_at`

// SQLiteSnapshotRepository stores snapshots in the route_snapshots table.
type SQLiteSnapshotRepository struct {
	db *sql.DB
}

// NewSQLiteSnapshotRepository creates a snapshot repository.
func NewSQLiteSnapshotRepository(db *sql.DB) *SQLiteSnapshotRepository {
	return &SQLiteSnapshotRepository{db: db}
}

// Create inserts a snapshot. Names are unique.
func (r *SQLiteSnapshotRepository) Create(ctx context.Context, s *Snapshot) error {
	routes := s.Routes
	if routes == nil {
		routes = []SnapshotRoute{}
	}
	routesJSON, err := json.Marshal(routes)
	if err != nil {
		return fmt.Errorf("marshalling snapshot routes: %w", err)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO route_snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Name, nullableString(s.Description), string(routesJSON),
		s.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrSnapshotExists, s.Name)
		}
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

// GetByName returns the snapshot with the given name.
func (r *SQLiteSnapshotRepository) GetByName(ctx context.Context, name string) (*Snapshot, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM route_snapshots WHERE name = ?`, name)
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// List returns all snapshots, newest first.
func (r *SQLiteSnapshotRepository) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM route_snapshots ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return out, nil
}

// Delete removes the snapshot with the given name.
func (r *SQLiteSnapshotRepository) Delete(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM route_snapshots WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var (
		s           Snapshot
		description sql.NullString
		routesJSON  string
		createdAt   string
	)
	if err := row.Scan(&s.ID, &s.Name, &description, &routesJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning snapshot: %w", err)
	}
	s.Description = description.String
	if err := json.Unmarshal([]byte(routesJSON), &s.Routes); err != nil {
		return nil, fmt.Errorf("parsing snapshot routes: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		s.CreatedAt = t
	}
	return &s, nil
}

// nullableString maps "" to NULL for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
