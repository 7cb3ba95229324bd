package storage

import (
	"errors"
	"fmt"
	"time"
)

// AnalysisRun records one analyzer invocation.
type AnalysisRun struct {
	ID          string    `json:"id"`
	Target      string    `json:"target"` // file for a single-file run, empty for the project
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	ExitCode    int       `json:"exitCode"`
	OutputLines int       `json:"outputLines"`
	Error       string    `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r *AnalysisRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RecordAnalysisRun inserts a finished run.
func (s *SQLiteStore) RecordAnalysisRun(run *AnalysisRun) error {
	if run == nil || run.ID == "" {
		return errors.New("analysis run with an id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO analysis_runs (id, target, started_at, finished_at, exit_code, output_lines, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Target,
		run.StartedAt.UTC().Format(timeLayout),
		run.FinishedAt.UTC().Format(timeLayout),
		run.ExitCode,
		run.OutputLines,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("save analysis run: %w", err)
	}
	return nil
}

// ListAnalysisRuns returns runs newest first. Use limit <= 0 for all.
func (s *SQLiteStore) ListAnalysisRuns(limit int) ([]*AnalysisRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, target, started_at, finished_at, exit_code, output_lines, error
		FROM analysis_runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analysis runs: %w", err)
	}
	defer rows.Close()

	var out []*AnalysisRun
	for rows.Next() {
		var (
			run               AnalysisRun
			started, finished string
		)
		if err := rows.Scan(&run.ID, &run.Target, &started, &finished, &run.ExitCode, &run.OutputLines, &run.Error); err != nil {
			return nil, err
		}
		if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		out = append(out, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis runs: %w", err)
	}
	return out, nil
}

// Cleanup deletes decisions and runs older than retention. The text decision
// log is not affected. Returns the number of rows deleted.
func (s *SQLiteStore) Cleanup(retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention).Format(timeLayout)
	var total int64
	for table, column := range map[string]string{
		"decisions":     "decided_at",
		"analysis_runs": "started_at",
	} {
		result, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, column), cutoff)
		if err != nil {
			return total, fmt.Errorf("cleanup %s: %w", table, err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}
