package storage

// decisions.go contains SQLiteStore methods for the decision history.
// Every apply, decline and undo adds one row; rows are never updated.

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// Decision values stored in the decision column.
const (
	DecisionApplied  = "applied"
	DecisionDeclined = "declined"
	DecisionUndone   = "Undo was requested by user."
)

// DecisionRecord is one row of the decision history.
type DecisionRecord struct {
	// ID is the unique identifier (UUID) of the decision.
	ID string `json:"id"`

	// DecidedAt is when the decision was made.
	DecidedAt time.Time `json:"decidedAt"`

	// SourceFile is the file the patch targets.
	SourceFile string `json:"sourceFile"`

	// PatchPath is the patch the decision was about. Empty for an undo
	// whose snapshot had no patch.
	PatchPath string `json:"patchPath"`

	// Decision is DecisionApplied, DecisionDeclined or DecisionUndone.
	Decision string `json:"decision"`

	// Reason is the free text the user gave.
	Reason string `json:"reason"`

	// Explanation and Score describe the patch candidate at decision time.
	Explanation string  `json:"explanation,omitempty"`
	Score       float64 `json:"score,omitempty"`

	// SnapshotID is the undo snapshot taken before the decision.
	SnapshotID string `json:"snapshotId,omitempty"`
}

// timeLayout is RFC3339 with fixed-width nanoseconds so stored timestamps
// sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const decisionColumns = `id, decided_at, source_file, patch_path, decision, reason, explanation, score, snapshot_id`

// SaveDecision appends a decision to the history.
func (s *SQLiteStore) SaveDecision(rec *DecisionRecord) error {
	if rec == nil {
		return errors.New("decision cannot be nil")
	}
	if rec.ID == "" {
		return errors.New("decision id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: saving decision %s (patch=%s, decision=%s)", rec.ID, rec.PatchPath, rec.Decision)

	_, err := s.db.Exec(
		`INSERT INTO decisions (`+decisionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.DecidedAt.UTC().Format(timeLayout),
		rec.SourceFile,
		rec.PatchPath,
		rec.Decision,
		rec.Reason,
		rec.Explanation,
		rec.Score,
		rec.SnapshotID,
	)
	if err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}

// ListDecisions returns decisions newest first. Use limit <= 0 for all.
func (s *SQLiteStore) ListDecisions(limit int) ([]*DecisionRecord, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions ORDER BY decided_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryDecisions(query, args...)
}

// ListDecisionsForPatch returns the decisions about one patch, newest first.
func (s *SQLiteStore) ListDecisionsForPatch(patchPath string) ([]*DecisionRecord, error) {
	return s.queryDecisions(
		`SELECT `+decisionColumns+` FROM decisions WHERE patch_path = ? ORDER BY decided_at DESC, rowid DESC`,
		patchPath,
	)
}

// LastDecision returns the most recent decision or ErrDecisionNotFound.
func (s *SQLiteStore) LastDecision() (*DecisionRecord, error) {
	recs, err := s.ListDecisions(1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrDecisionNotFound
	}
	return recs[0], nil
}

// CountDecisions counts decisions with the given value, or all decisions
// when decision is empty.
func (s *SQLiteStore) CountDecisions(decision string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	var err error
	if decision == "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM decisions").Scan(&count)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM decisions WHERE decision = ?", decision).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count decisions: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) queryDecisions(query string, args ...any) ([]*DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []*DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision rows: %w", err)
	}
	return out, nil
}

func scanDecision(rows *sql.Rows) (*DecisionRecord, error) {
	var (
		rec       DecisionRecord
		decidedAt string
	)
	err := rows.Scan(
		&rec.ID,
		&decidedAt,
		&rec.SourceFile,
		&rec.PatchPath,
		&rec.Decision,
		&rec.Reason,
		&rec.Explanation,
		&rec.Score,
		&rec.SnapshotID,
	)
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, decidedAt)
	if err != nil {
		return nil, fmt.Errorf("parse decided_at: %w", err)
	}
	rec.DecidedAt = t
	return &rec, nil
}
