package libstore

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStore_RecordAndLoad(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "libraries.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	loads := []Load{
		{ProjectKey: "demo", Library: "base", Version: "1.0.0", Modules: 3, Definitions: 12, LoadedAt: base},
		{ProjectKey: "demo", Library: "std", Version: "2.1.0", External: true, Modules: 9, LoadedAt: base},
		{ProjectKey: "demo", Library: "base", Version: "1.1.0", Modules: 4, Definitions: 15, LoadedAt: base.Add(time.Hour)},
		{ProjectKey: "demo", Library: "net", ErrorKind: "not_found", Error: "no manifest", LoadedAt: base.Add(2 * time.Hour)},
	}
	for _, l := range loads {
		if err := store.RecordLoad(l); err != nil {
			t.Fatalf("record %s: %v", l.Library, err)
		}
	}

	history, err := store.Loads("demo", "base", time.Time{})
	if err != nil {
		t.Fatalf("loads: %v", err)
	}
	if len(history) != 2 || history[1].Version != "1.1.0" {
		t.Fatalf("unexpected base history %+v", history)
	}

	since, err := store.Loads("demo", "", base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("loads since: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("expected 2 loads after filter, got %d", len(since))
	}

	latest, err := store.Latest("demo")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 3 {
		t.Fatalf("expected one row per library, got %+v", latest)
	}
	if latest[0].Library != "base" || latest[0].Definitions != 15 {
		t.Fatalf("expected newest base load, got %+v", latest[0])
	}
	if !latest[1].Failed() || latest[1].ErrorKind != "not_found" {
		t.Fatalf("expected failed net load, got %+v", latest[1])
	}
	if !latest[2].External {
		t.Fatalf("expected std to be external, got %+v", latest[2])
	}
}

func TestStore_RecordUpsertsSameTimestamp(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "libraries.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ts := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	if err := store.RecordLoad(Load{Library: "base", Modules: 1, LoadedAt: ts}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordLoad(Load{Library: "base", Modules: 7, LoadedAt: ts}); err != nil {
		t.Fatal(err)
	}
	rows, err := store.Loads("", "base", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Modules != 7 || rows[0].ProjectKey != "default" {
		t.Fatalf("expected a single upserted row, got %+v", rows)
	}
}

func TestStore_RejectsEmptyLibrary(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "libraries.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.RecordLoad(Load{}); err == nil {
		t.Fatal("expected error for empty library name")
	}
}

func TestStore_OpenRejectsDirectoryPath(t *testing.T) {
	_, err := Open(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "is a directory") {
		t.Fatalf("expected directory error, got %v", err)
	}
}

func TestStore_OpenCorruptDBPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libraries.db")
	if err := os.WriteFile(path, []byte("this is not sqlite"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	if err == nil {
		t.Fatal("expected sqlite open error")
	}
	lower := strings.ToLower(err.Error())
	if !strings.Contains(lower, "not a database") && !strings.Contains(lower, "schema") {
		t.Fatalf("expected schema/open error, got: %v", err)
	}
}

func TestEnsureSchema_DetectsNewerVersionDrift(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libraries.db")
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.db.Exec(`INSERT OR REPLACE INTO schema_migrations(version) VALUES (?)`, SchemaVersion+1); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open(driverName, "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	err = EnsureSchema(db)
	if err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Fatalf("expected drift error, got %v", err)
	}
}

func TestIsCorruptError(t *testing.T) {
	if !IsCorruptError(errors.New("database disk image is malformed")) {
		t.Fatal("expected malformed sqlite message to be treated as corrupt")
	}
}
