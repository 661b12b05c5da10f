// Package state is the daemon's SQLite store: rule definitions, owner
// credentials and execution history.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection.
type DB struct {
	db *sql.DB
}

const schemaVersion = 1

const stateSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    owner_id TEXT NOT NULL,
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    action_provider TEXT NOT NULL,
    action_kind TEXT NOT NULL,
    action_filter TEXT,
    reaction_provider TEXT NOT NULL,
    reaction_kind TEXT NOT NULL,
    reaction_parameters TEXT,
    metadata TEXT,
    last_triggered DATETIME,
    last_checked DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_owner ON rules(owner_id);
CREATE INDEX IF NOT EXISTS idx_rules_action ON rules(action_provider, action_kind);

CREATE TABLE IF NOT EXISTS credentials (
    owner_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    data TEXT NOT NULL,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (owner_id, provider)
);

CREATE TABLE IF NOT EXISTS execution_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    rule_id TEXT NOT NULL,
    rule_name TEXT NOT NULL DEFAULT '',
    owner_id TEXT NOT NULL DEFAULT '',
    trigger_kind TEXT NOT NULL,
    reaction_kind TEXT NOT NULL,
    outcome TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    duration_ms INTEGER NOT NULL,
    error TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_execution_history_rule ON execution_history(rule_id);
CREATE INDEX IF NOT EXISTS idx_execution_history_outcome ON execution_history(outcome);
CREATE INDEX IF NOT EXISTS idx_execution_history_started ON execution_history(started_at);
`

// Open opens or creates a state database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if _, err := db.Exec(stateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("writing schema version: %w", err)
		}
	}

	// Credentials live here.
	if err := os.Chmod(path, 0o600); err != nil {
		db.Close()
		return nil, fmt.Errorf("restricting database permissions: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
