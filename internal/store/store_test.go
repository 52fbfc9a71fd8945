package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)
	result, err := db.Migrate()
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if result.Changed {
		t.Error("second Migrate() reported changes")
	}
}

func TestPinUnpin(t *testing.T) {
	db := testDB(t)

	if err := db.Pin("R42"); err != nil {
		t.Fatal(err)
	}
	if err := db.Pin("R42"); err != nil {
		t.Fatalf("repeat Pin() error = %v", err)
	}
	if err := db.Pin("R7"); err != nil {
		t.Fatal(err)
	}

	pins, err := db.PinnedRooms()
	if err != nil {
		t.Fatal(err)
	}
	if len(pins) != 2 || !pins["R42"] || !pins["R7"] {
		t.Errorf("pins = %v, want R42 and R7", pins)
	}

	if err := db.Unpin("R42"); err != nil {
		t.Fatal(err)
	}
	pins, err = db.PinnedRooms()
	if err != nil {
		t.Fatal(err)
	}
	if len(pins) != 1 || pins["R42"] {
		t.Errorf("pins after unpin = %v, want only R7", pins)
	}
}

func TestPinsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.Pin("R42"); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	pins, err := db.PinnedRooms()
	if err != nil {
		t.Fatal(err)
	}
	if !pins["R42"] {
		t.Errorf("pins after reopen = %v, want R42", pins)
	}
}

func TestKV(t *testing.T) {
	db := testDB(t)

	v, err := db.GetValue("missing")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("GetValue(missing) = %q, want empty", v)
	}

	if err := db.SetValue("last_connected_at", "1724800000000"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetValue("last_connected_at", "1724800001000"); err != nil {
		t.Fatal(err)
	}

	v, err = db.GetValue("last_connected_at")
	if err != nil {
		t.Fatal(err)
	}
	if v != "1724800001000" {
		t.Errorf("GetValue = %q, want overwritten value", v)
	}
}
