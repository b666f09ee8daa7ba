package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePaths_DefaultLayout(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, DefaultFile), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "src", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ResolvePaths(Default(), nested)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProjectRoot != filepath.Clean(root) {
		t.Fatalf("expected project root %q, got %q", root, got.ProjectRoot)
	}
	if got.DBPath != filepath.Join(root, ".semcache", "libraries.db") {
		t.Fatalf("unexpected db path: %q", got.DBPath)
	}
	if got.LibrariesDir != filepath.Join(root, "libs") {
		t.Fatalf("unexpected libraries dir: %q", got.LibrariesDir)
	}
	if len(got.Internal) != 1 || got.Internal[0] != filepath.Clean(root) {
		t.Fatalf("unexpected internal libraries: %v", got.Internal)
	}
}

func TestResolvePaths_AbsoluteOverrides(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(root, "custom", "loads.db")
	libs := filepath.Join(root, "shared-libs")

	cfg := Default()
	cfg.Project.Root = root
	cfg.DB.Path = dbPath
	cfg.Libraries.Dir = libs
	cfg.Watch.Paths = []string{"src", libs}

	got, err := ResolvePaths(cfg, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got.DBPath != dbPath {
		t.Fatalf("expected db path override %q, got %q", dbPath, got.DBPath)
	}
	if got.LibrariesDir != libs {
		t.Fatalf("expected libraries dir override %q, got %q", libs, got.LibrariesDir)
	}
	if got.WatchPaths[0] != filepath.Join(root, "src") || got.WatchPaths[1] != libs {
		t.Fatalf("unexpected watch paths %v", got.WatchPaths)
	}
}

func TestResolvePaths_RequiresCWD(t *testing.T) {
	if _, err := ResolvePaths(Default(), " "); err == nil {
		t.Fatal("expected error for empty cwd")
	}
}
