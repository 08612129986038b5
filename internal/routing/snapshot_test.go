package routing

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openSnapshotDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	_, err = db.Exec(`CREATE TABLE route_snapshots (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		routes TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("creating table: %v", err)
	}
	return db
}

func TestSQLiteSnapshotRepository_CRUD(t *testing.T) {
	repo := NewSQLiteSnapshotRepository(openSnapshotDB(t))
	ctx := context.Background()

	snap := &Snapshot{
		ID:     "snap-1",
		Name:   "show",
		Routes: []SnapshotRoute{{SenderID: "s1", SenderLabel: "Camera A", ReceiverID: "r1"}},
	}
	if err := repo.Create(ctx, snap); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, &Snapshot{ID: "snap-2", Name: "show"}); !errors.Is(err, ErrSnapshotExists) {
		t.Errorf("duplicate name error = %v, want ErrSnapshotExists", err)
	}

	got, err := repo.GetByName(ctx, "show")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	if len(got.Routes) != 1 || got.Routes[0].SenderLabel != "Camera A" {
		t.Errorf("routes = %+v", got.Routes)
	}

	list, err := repo.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %v, %v", list, err)
	}

	if err := repo.Delete(ctx, "show"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByName(ctx, "show"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("after delete error = %v, want ErrSnapshotNotFound", err)
	}
	if err := repo.Delete(ctx, "show"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("second delete error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestSaveSnapshot_CapturesLabels(t *testing.T) {
	reg, conn := standardSetup()
	r := New(reg, conn, fastConfig())
	r.SetSnapshotRepository(NewSQLiteSnapshotRepository(openSnapshotDB(t)))
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap, err := r.SaveSnapshot(context.Background(), "morning", "")
	if err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	if len(snap.Routes) != 1 {
		t.Fatalf("routes = %+v", snap.Routes)
	}
	rt := snap.Routes[0]
	if rt.SenderLabel != "Camera A" || rt.ReceiverLabel != "Monitor 1" {
		t.Errorf("labels = %+v", rt)
	}

	if _, err := r.SaveSnapshot(context.Background(), "  ", ""); !errors.Is(err, ErrInvalidRoute) {
		t.Errorf("blank name error = %v", err)
	}
}

func TestApplySnapshot_CancelledReportsEveryRoute(t *testing.T) {
	reg, conn := standardSetup()
	r := New(reg, conn, fastConfig())
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.ApplySnapshot(ctx, &Snapshot{Name: "late", Routes: []SnapshotRoute{
		{SenderID: "s1", ReceiverID: "r2"},
		{SenderID: "s2", ReceiverID: "r1"},
	}})

	if res.ValidRoutes != 2 || res.Applied+res.Failed != res.ValidRoutes || res.Failed != 2 {
		t.Fatalf("result = %+v", res)
	}
	for _, e := range res.Entries {
		if e.Status != EntryFailed || !strings.Contains(e.Error, context.Canceled.Error()) {
			t.Errorf("entry = %+v, want failed with the context error", e)
		}
	}
	if n := len(conn.patchCalls()); n != 0 {
		t.Errorf("patch calls = %d, want none after cancellation", n)
	}
}

func TestLoadSnapshot_SkipsInvalidEntries(t *testing.T) {
	reg, conn := standardSetup()
	repo := NewSQLiteSnapshotRepository(openSnapshotDB(t))
	r := New(reg, conn, fastConfig())
	r.SetSnapshotRepository(repo)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := repo.Create(context.Background(), &Snapshot{
		ID:   "snap-x",
		Name: "evening",
		Routes: []SnapshotRoute{
			{SenderID: "s1", ReceiverID: "r2"},
			{SenderID: "s2", ReceiverID: "r1"},
			{SenderID: "s2", ReceiverID: "gone"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := r.LoadSnapshot(context.Background(), "evening")
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if res.ValidRoutes != 2 || res.InvalidRoutes != 1 || res.Applied != 2 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}
	if len(conn.patchCalls()) != 2 {
		t.Errorf("patch calls = %d, want 2", len(conn.patchCalls()))
	}

	m := r.Matrix()
	if sid, _ := m.RouteOf("r2"); sid != "s1" {
		t.Errorf("RouteOf(r2) = %q", sid)
	}
	if sid, _ := m.RouteOf("r1"); sid != "s2" {
		t.Errorf("RouteOf(r1) = %q", sid)
	}
}

func TestSnapshotOpsWithoutRepository(t *testing.T) {
	reg, conn := standardSetup()
	r := New(reg, conn, fastConfig())

	if _, err := r.SaveSnapshot(context.Background(), "x", ""); !errors.Is(err, ErrNoRepository) {
		t.Errorf("SaveSnapshot error = %v", err)
	}
	if _, err := r.LoadSnapshot(context.Background(), "x"); !errors.Is(err, ErrNoRepository) {
		t.Errorf("LoadSnapshot error = %v", err)
	}
}
