// Package storage persists decision history and analyzer runs in SQLite.
//
// The text decision log next to the patches is the user-facing audit trail;
// this database backs the history command and bridge queries.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	// SQLite driver - imported for side effects (registers the driver).
	// modernc.org/sqlite is pure Go, so the binary needs no CGO.
	_ "modernc.org/sqlite"
)

// ErrDecisionNotFound is returned when a decision lookup fails.
var ErrDecisionNotFound = errors.New("decision not found")

// SQLiteStore stores decisions and analyzer runs. It creates the database
// and tables on first use and serializes access through internal locking.
type SQLiteStore struct {
	db *sql.DB      // Database connection handle.
	mu sync.RWMutex // Guards all database operations.
}

// NewSQLiteStore opens or creates a SQLite database at the given path and
// migrates it to the current schema. Use ":memory:" in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	log.Printf("storage: opening database at %s", path)

	// busy_timeout covers the CLI and a running host writing at once.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A second pooled connection to ":memory:" would be a different database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Printf("storage: database ready (schema version %d)", currentSchemaVersion)
	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	log.Printf("storage: closing database")
	return s.db.Close()
}
