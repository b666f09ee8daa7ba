// Package libstore keeps a sqlite record of library loads per project, so the
// CLI can show what was loaded, when, and what failed.
package libstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
)

// Load is one library load attempt. ErrorKind is empty for a success.
type Load struct {
	ProjectKey  string
	Library     string
	Version     string
	External    bool
	SourcePath  string
	Modules     int
	Definitions int
	LoadedAt    time.Time
	ErrorKind   string
	Error       string
}

func (l Load) Failed() bool { return l.ErrorKind != "" }

type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("library store path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("library store path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create library store directory %q: %w", dir, err)
		}
	}

	// busy_timeout + WAL reduce lock conflicts while watch mode reloads.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite library store %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite library store %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}
	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// RecordLoad stores one load. A second record with the same project, library
// and timestamp replaces the first.
func (s *Store) RecordLoad(load Load) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	load.ProjectKey = normalizeKey(load.ProjectKey)
	if strings.TrimSpace(load.Library) == "" {
		return fmt.Errorf("library name must not be empty")
	}
	if load.LoadedAt.IsZero() {
		load.LoadedAt = time.Now().UTC()
	}
	external := 0
	if load.External {
		external = 1
	}

	query := `
INSERT INTO library_loads (
  project_key, library, version, external, source_path, module_count, definition_count,
  loaded_at_utc, error_kind, error_message
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(project_key, library, loaded_at_utc) DO UPDATE SET
  version=excluded.version,
  external=excluded.external,
  source_path=excluded.source_path,
  module_count=excluded.module_count,
  definition_count=excluded.definition_count,
  error_kind=excluded.error_kind,
  error_message=excluded.error_message
`
	return s.withRetry("record library load", func() error {
		_, err := s.db.Exec(
			query,
			load.ProjectKey,
			load.Library,
			load.Version,
			external,
			load.SourcePath,
			load.Modules,
			load.Definitions,
			load.LoadedAt.UTC().Format(time.RFC3339Nano),
			load.ErrorKind,
			load.Error,
		)
		return err
	})
}

// Loads returns the loads of projectKey since the given time, oldest first.
// An empty library matches every library.
func (s *Store) Loads(projectKey, library string, since time.Time) ([]Load, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := selectLoads + " WHERE project_key = ?"
	args := []any{normalizeKey(projectKey)}
	if library != "" {
		query += " AND library = ?"
		args = append(args, library)
	}
	if !since.IsZero() {
		query += " AND loaded_at_utc >= ?"
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY loaded_at_utc ASC, library ASC"
	return s.query("load library history", query, args...)
}

// Latest returns the most recent load of every library of projectKey,
// ordered by library name.
func (s *Store) Latest(projectKey string) ([]Load, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := selectLoads + `
WHERE project_key = ? AND loaded_at_utc = (
  SELECT MAX(l2.loaded_at_utc) FROM library_loads l2
  WHERE l2.project_key = library_loads.project_key AND l2.library = library_loads.library
)
ORDER BY library ASC`
	return s.query("load latest libraries", query, normalizeKey(projectKey))
}

const selectLoads = `
SELECT
  project_key, library, version, external, source_path, module_count, definition_count,
  loaded_at_utc, error_kind, error_message
FROM library_loads`

func (s *Store) query(op, query string, args ...any) ([]Load, error) {
	var rows *sql.Rows
	err := s.withRetry(op, func() error {
		var qErr error
		rows, qErr = s.db.Query(query, args...)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loads := make([]Load, 0)
	for rows.Next() {
		var (
			load     Load
			external int
			tsRaw    string
		)
		if err := rows.Scan(
			&load.ProjectKey,
			&load.Library,
			&load.Version,
			&external,
			&load.SourcePath,
			&load.Modules,
			&load.Definitions,
			&tsRaw,
			&load.ErrorKind,
			&load.Error,
		); err != nil {
			return nil, fmt.Errorf("scan library load row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, tsRaw)
		if err != nil {
			return nil, fmt.Errorf("parse load timestamp %q: %w", tsRaw, err)
		}
		load.LoadedAt = ts.UTC()
		load.External = external != 0
		loads = append(loads, load)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate library load rows: %w", err)
	}
	return loads, nil
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "default"
	}
	return key
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func IsCorruptError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database") || errors.Is(err, os.ErrInvalid)
}
