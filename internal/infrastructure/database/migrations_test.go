package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func withMigrations(t *testing.T, files fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	MigrationsFS, MigrationsDir = files, "."
	t.Cleanup(func() { MigrationsFS, MigrationsDir = origFS, origDir })
}

var testMigrations = fstest.MapFS{
	"20261001_120000_snapshots.up.sql":   {Data: []byte(`CREATE TABLE route_snapshots (id TEXT PRIMARY KEY, name TEXT NOT NULL UNIQUE);`)},
	"20261001_120000_snapshots.down.sql": {Data: []byte(`DROP TABLE route_snapshots;`)},
	"20261002_090000_audit.up.sql":       {Data: []byte(`CREATE TABLE audit_logs (id TEXT PRIMARY KEY);`)},
	"README.md":                          {Data: []byte("ignored")},
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	withMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "route_snapshots") || !tableExists(t, db, "audit_logs") {
		t.Fatal("tables not created")
	}

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d; want 2, 0", len(applied), len(pending))
	}
	if applied[0].Version != "20261001_120000" || applied[0].AppliedAt.IsZero() {
		t.Errorf("first record = %+v", applied[0])
	}

	// Idempotent.
	if err := db.Migrate(ctx); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20261001_120000_snapshots.up.sql":   testMigrations["20261001_120000_snapshots.up.sql"],
		"20261001_120000_snapshots.down.sql": testMigrations["20261001_120000_snapshots.down.sql"],
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "route_snapshots") {
		t.Error("route_snapshots still exists after MigrateDown")
	}
	_, pending, err := db.MigrationStatus(ctx)
	if err != nil || len(pending) != 1 {
		t.Errorf("pending = %d, err = %v; want 1", len(pending), err)
	}
}

func TestMigrateDown_NoDownFile(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20261002_090000_audit.up.sql": testMigrations["20261002_090000_audit.up.sql"],
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateDown(ctx); err == nil {
		t.Error("MigrateDown() expected error without down SQL")
	}
}

func TestMigrate_FailedMigrationRollsBack(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20261001_120000_ok.up.sql":     {Data: []byte(`CREATE TABLE a (id TEXT);`)},
		"20261002_120000_broken.up.sql": {Data: []byte(`CREATE TABLE b (id TEXT); NOT SQL;`)},
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() expected error")
	}
	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied = %d, pending = %d; want 1, 1", len(applied), len(pending))
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		file    string
		version string
		name    string
		up      bool
		ok      bool
	}{
		{"20261001_120000_initial_schema.up.sql", "20261001_120000", "initial_schema", true, true},
		{"20261001_120000_initial_schema.down.sql", "20261001_120000", "initial_schema", false, true},
		{"20261001_120000.up.sql", "20261001_120000", "", true, true},
		{"20261001_120000_x.sql", "", "", false, false},
		{"2026_12_x.up.sql", "", "", false, false},
		{"embed.go", "", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.file)
			if version != tt.version || name != tt.name || up != tt.up || ok != tt.ok {
				t.Errorf("got (%q, %q, %v, %v), want (%q, %q, %v, %v)",
					version, name, up, ok, tt.version, tt.name, tt.up, tt.ok)
			}
		})
	}
}
