package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'queued',
	prompt          TEXT NOT NULL,
	mode            TEXT NOT NULL,
	schema_json     TEXT,
	timeout_ms      INTEGER,
	model           TEXT,
	permission_mode TEXT,
	workspace_path  TEXT,
	tags_json       TEXT,
	created_at      INTEGER NOT NULL,
	started_at      INTEGER,
	completed_at    INTEGER,
	result_json     TEXT,
	error_json      TEXT,
	duration        INTEGER,
	cost            REAL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);

CREATE TABLE IF NOT EXISTS mcp_profiles (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	servers_json TEXT NOT NULL,
	created_at   INTEGER NOT NULL
);
`

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. A single connection is used so writers never contend.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
