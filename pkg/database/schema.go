package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Config holds connection settings for the sqlite-backed persistence
// collaborator.
type Config struct {
	DatabasePath    string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns settings suitable for a single local process.
func DefaultConfig(path string) *Config {
	return &Config{
		DatabasePath:    path,
		MaxConnections:  10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// migrations are applied in order, tracked by the schema_migrations
// table. Statements must stay idempotent-safe for replays of partially
// applied versions.
var migrations = []struct {
	version int
	name    string
	stmts   []string
}{
	{
		version: 1,
		name:    "create_participants",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS participants (
				key          TEXT PRIMARY KEY,
				display_name TEXT NOT NULL,
				updated_at   DATETIME NOT NULL
			)`,
		},
	},
	{
		version: 2,
		name:    "create_session_archive",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS session_archive (
				id           TEXT PRIMARY KEY,
				status       TEXT NOT NULL,
				participants TEXT NOT NULL,
				stats        TEXT NOT NULL,
				created_at   DATETIME NOT NULL,
				started_at   DATETIME,
				ended_at     DATETIME,
				archived_at  DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_session_archive_archived_at
				ON session_archive(archived_at)`,
		},
	},
}

// ApplyMigrations brings the schema up to date.
func ApplyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at DATETIME NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, time.Now()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
