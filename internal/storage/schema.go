package storage

import (
	"fmt"
	"log"
	"time"
)

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add a migration.
const currentSchemaVersion = 2

// initSchema brings the database up to currentSchemaVersion.
func (s *SQLiteStore) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	version, err := s.schemaVersion()
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schemaVersion()
}

func (s *SQLiteStore) schemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	return version, err
}

// migrateToV1 creates the decisions table.
func (s *SQLiteStore) migrateToV1() error {
	log.Printf("storage: applying migration to schema version 1")

	// Timestamps are stored in timeLayout.
	const decisionsTable = `
		CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			decided_at TEXT NOT NULL,
			source_file TEXT NOT NULL DEFAULT '',
			patch_path TEXT NOT NULL DEFAULT '',
			decision TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			explanation TEXT NOT NULL DEFAULT '',
			score REAL NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_decisions_decided_at ON decisions(decided_at);
		CREATE INDEX IF NOT EXISTS idx_decisions_patch_path ON decisions(patch_path);
	`
	if _, err := s.db.Exec(decisionsTable); err != nil {
		return fmt.Errorf("create decisions table: %w", err)
	}
	return s.recordMigration(1)
}

// migrateToV2 links decisions to undo snapshots and adds analyzer runs.
func (s *SQLiteStore) migrateToV2() error {
	log.Printf("storage: applying migration to schema version 2")

	const ddl = `
		ALTER TABLE decisions ADD COLUMN snapshot_id TEXT NOT NULL DEFAULT '';

		CREATE TABLE IF NOT EXISTS analysis_runs (
			id TEXT PRIMARY KEY,
			target TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			exit_code INTEGER NOT NULL DEFAULT 0,
			output_lines INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started_at ON analysis_runs(started_at);
	`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("apply v2 schema: %w", err)
	}
	return s.recordMigration(2)
}

func (s *SQLiteStore) recordMigration(version int) error {
	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		version,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}
