package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations contains all database migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with sessions, frames, app_state",
		SQL: `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    description TEXT,
    checksum TEXT
);

-- Sessions table
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    state TEXT NOT NULL CHECK(state IN ('active', 'completed')),
    activity_file TEXT NOT NULL DEFAULT '',
    camera TEXT NOT NULL DEFAULT '',
    interval INTEGER NOT NULL DEFAULT 5,
    auto_mode INTEGER NOT NULL DEFAULT 0,
    start_time TIMESTAMP NOT NULL,
    end_time TIMESTAMP,
    frame_count INTEGER NOT NULL DEFAULT 0,
    video_path TEXT,
    video_fps INTEGER,
    video_created_at TIMESTAMP
);

-- At most one session may be active system-wide.
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_single_active ON sessions(state) WHERE state = 'active';
CREATE INDEX IF NOT EXISTS idx_sessions_start_time ON sessions(start_time);

-- Frames table
CREATE TABLE IF NOT EXISTS frames (
    session_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    captured_at TIMESTAMP NOT NULL,
    file_path TEXT NOT NULL,
    PRIMARY KEY (session_id, idx),
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

-- Application state, single row
CREATE TABLE IF NOT EXISTS app_state (
    id INTEGER PRIMARY KEY CHECK(id = 1),
    auto_mode INTEGER NOT NULL DEFAULT 0,
    camera TEXT NOT NULL DEFAULT '',
    interval INTEGER NOT NULL DEFAULT 5,
    brightness REAL NOT NULL DEFAULT 0.5,
    contrast REAL NOT NULL DEFAULT 1.0,
    exposure REAL NOT NULL DEFAULT 0.5,
    resolution TEXT NOT NULL DEFAULT '1280x720',
    ignored_patterns TEXT NOT NULL DEFAULT '[]',
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`,
	},
}

// runMigrations runs all pending database migrations.
func (s *Store) runMigrations() error {
	currentVersion := s.getCurrentSchemaVersion()

	for _, migration := range migrations {
		if migration.Version > currentVersion {
			if err := s.runMigration(migration); err != nil {
				return err
			}
		}
	}

	return nil
}

// getCurrentSchemaVersion returns the current schema version from the database.
func (s *Store) getCurrentSchemaVersion() int {
	var tableName string
	err := s.db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 0
	}
	if err != nil {
		return 0
	}

	var version int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0
	}

	return version
}

// runMigration executes a single migration within a transaction.
func (s *Store) runMigration(migration Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return NewStorageError(ErrMigration, "failed to begin migration transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return NewStorageError(ErrMigration, fmt.Sprintf("migration %d failed: %s", migration.Version, migration.Description), err)
	}

	checksum := calculateChecksum(migration.SQL)
	_, err = tx.Exec(`
		INSERT INTO schema_version (version, description, checksum)
		VALUES (?, ?, ?)
	`, migration.Version, migration.Description, checksum)
	if err != nil {
		return NewStorageError(ErrMigration, "failed to record migration", err)
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError(ErrMigration, "failed to commit migration", err)
	}

	return nil
}

// calculateChecksum calculates SHA256 checksum of the migration SQL.
func calculateChecksum(sql string) string {
	hash := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(hash[:])
}
