// Package state provides SQLite-based persistence for task records,
// reminder schedules, and user preferences
// (~/.local/share/taskbeacon/taskbeacon.db).
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the path to the taskbeacon database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "taskbeacon", "taskbeacon.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// OpenDefault opens the database at the default path.
func OpenDefault() (*DB, error) {
	return Open(DefaultDBPath())
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Ping verifies the connection still answers queries.
func (db *DB) Ping() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Ping()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1TaskRecords},
		{2, migrationV2Reminders},
		{3, migrationV3Preferences},
		{4, migrationV4PipelineRuns},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1TaskRecords = `
CREATE TABLE IF NOT EXISTS task_records (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	summary TEXT,
	description TEXT,
	deadline DATETIME,
	category TEXT,
	reward_amount REAL,
	reward_currency TEXT,
	reward_type TEXT,
	tags TEXT,
	difficulty_level TEXT,
	estimated_hours INTEGER,
	organizer_name TEXT,
	source_url TEXT,
	confidence REAL NOT NULL DEFAULT 0.0,
	low_confidence INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_records_user_id ON task_records(user_id);
CREATE INDEX IF NOT EXISTS idx_task_records_deadline ON task_records(deadline);
`

const migrationV2Reminders = `
CREATE TABLE IF NOT EXISTS reminder_schedules (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	deadline DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE(subject_id, user_id)
);

CREATE TABLE IF NOT EXISTS reminder_firings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	schedule_id TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	offset_name TEXT NOT NULL,
	scheduled_at DATETIME NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	claimed_at DATETIME,
	sent_at DATETIME,
	UNIQUE(subject_id, user_id, offset_name),
	FOREIGN KEY(schedule_id) REFERENCES reminder_schedules(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_firings_status_scheduled ON reminder_firings(status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_firings_schedule ON reminder_firings(schedule_id);
`

const migrationV3Preferences = `
CREATE TABLE IF NOT EXISTS user_prefs (
	user_id TEXT PRIMARY KEY,
	quality_threshold REAL NOT NULL DEFAULT 0.7,
	output_verbosity TEXT NOT NULL DEFAULT 'normal',
	auto_create INTEGER NOT NULL DEFAULT 0,
	enabled_channels TEXT NOT NULL DEFAULT '["push"]',
	disabled_offsets TEXT NOT NULL DEFAULT '[]',
	updated_at DATETIME NOT NULL
);
`

const migrationV4PipelineRuns = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id TEXT PRIMARY KEY,
	input_fingerprint TEXT NOT NULL,
	classified_type TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	stages TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON pipeline_runs(input_fingerprint);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
