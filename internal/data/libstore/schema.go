package libstore

import (
	"database/sql"
	"fmt"
)

const SchemaVersion = 2

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS library_loads (
  project_key TEXT NOT NULL DEFAULT 'default',
  library TEXT NOT NULL,
  version TEXT NOT NULL DEFAULT '',
  external INTEGER NOT NULL DEFAULT 0,
  source_path TEXT NOT NULL DEFAULT '',
  module_count INTEGER NOT NULL DEFAULT 0,
  definition_count INTEGER NOT NULL DEFAULT 0,
  loaded_at_utc TEXT NOT NULL,
  PRIMARY KEY (project_key, library, loaded_at_utc)
);
CREATE INDEX IF NOT EXISTS idx_library_loads_library ON library_loads(library);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE library_loads ADD COLUMN error_kind TEXT NOT NULL DEFAULT '';
ALTER TABLE library_loads ADD COLUMN error_message TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_library_loads_project_key ON library_loads(project_key);
`,
	},
}

func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at_utc TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);
`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_migrations version: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
