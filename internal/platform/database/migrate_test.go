package database

import (
	"testing"
	"testing/fstest"

	"coursehub/internal/platform/config"
	"coursehub/migrations"
)

func TestMigrate(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := Migrate(db, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// second run is a no-op
	if err := Migrate(db, migrations.FS); err != nil {
		t.Fatalf("Migrate() second run error = %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 2 {
		t.Errorf("applied migrations = %d, want 2", count)
	}

	for _, table := range []string{"webhooks", "audit_logs"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrate_FailingFileIsNotRecorded(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_ok.sql":  {Data: []byte(`CREATE TABLE a (id INTEGER);`)},
		"0002_bad.sql": {Data: []byte(`CREATE TABLE nope (`)},
	}

	if err := Migrate(db, fsys); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count)
	if count != 1 {
		t.Errorf("applied migrations = %d, want 1", count)
	}
}
