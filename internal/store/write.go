package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/treesum/internal/audit"
)

// Run statuses.
const (
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusTerminated = "terminated"
)

// RunRecord is one ledger row.
type RunRecord struct {
	ID          string
	InputPath   string
	Count       int
	Strategy    string
	Concurrency int
	Sum         *int64 // nil unless the run completed
	Status      string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
	AuditLines  int
}

// Duration is how long the run took.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RecordRun inserts a run. Uses ON CONFLICT(id) DO NOTHING for idempotency:
// recording the same run twice keeps the first row.
func (s *Store) RecordRun(ctx context.Context, r RunRecord) error {
	var sum sql.NullInt64
	if r.Sum != nil {
		sum = sql.NullInt64{Int64: *r.Sum, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, input_path, count, strategy, concurrency, sum, status, error, started_at, finished_at, audit_lines)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.ID,
		r.InputPath,
		r.Count,
		r.Strategy,
		r.Concurrency,
		sum,
		r.Status,
		r.Error,
		r.StartedAt.UnixNano(),
		r.FinishedAt.UnixNano(),
		r.AuditLines,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecordAudit stores the audit log of a run in file order, in one
// transaction. The run must already be recorded (foreign key constraint).
// Re-recording the same entries is a no-op.
func (s *Store) RecordAudit(ctx context.Context, runID string, entries []audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_entries (run_id, seq, pid, idx, length)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, runID, i+1, e.Pid, e.Index, e.Length); err != nil {
			return fmt.Errorf("record audit entry %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}
