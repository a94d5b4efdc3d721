package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/treesum/internal/audit"
)

const runColumns = `id, input_path, count, strategy, concurrency, sum, status, error, started_at, finished_at, audit_lines`

// ReadRun returns a single run by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("read run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns every run.
//
// Returns an empty slice (not nil) if the ledger is empty.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadAudit returns the recorded audit entries of a run in log order.
//
// Returns an empty slice (not nil) if nothing was recorded.
func (s *Store) ReadAudit(ctx context.Context, runID string) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pid, idx, length
		FROM audit_entries
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.Pid, &e.Index, &e.Length); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var (
		r                 RunRecord
		sum               sql.NullInt64
		started, finished int64
	)
	err := row.Scan(
		&r.ID,
		&r.InputPath,
		&r.Count,
		&r.Strategy,
		&r.Concurrency,
		&sum,
		&r.Status,
		&r.Error,
		&started,
		&finished,
		&r.AuditLines,
	)
	if err != nil {
		return RunRecord{}, err
	}
	if sum.Valid {
		v := sum.Int64
		r.Sum = &v
	}
	r.StartedAt = time.Unix(0, started).UTC()
	r.FinishedAt = time.Unix(0, finished).UTC()
	return r, nil
}
