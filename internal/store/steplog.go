package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetStep returns the memoized result of step name in run runID.
func (s *LibSQLStore) GetStep(ctx context.Context, runID, name string) (*StepRecord, error) {
	rec := &StepRecord{}
	var output sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, name, output, created_at FROM step_log WHERE run_id = ? AND name = ?`, runID, name,
	).Scan(&rec.RunID, &rec.Name, &output, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("step", runID+"/"+name)
	}
	if err != nil {
		return nil, err
	}
	rec.Output = rawOrNil(output)
	return rec, nil
}

// RecordStep appends rec to the log. The first write for a (run, name) pair
// wins; later writes are ignored and reported as false.
func (s *LibSQLStore) RecordStep(ctx context.Context, rec *StepRecord) (bool, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO step_log (run_id, name, output, created_at) VALUES (?, ?, ?, ?)`,
		rec.RunID, rec.Name, nullRaw(rec.Output), rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert step %s/%s: %w", rec.RunID, rec.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListSteps returns the run's recorded steps in write order.
func (s *LibSQLStore) ListSteps(ctx context.Context, runID string) ([]*StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, name, output, created_at FROM step_log WHERE run_id = ? ORDER BY created_at, rowid`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StepRecord
	for rows.Next() {
		rec := &StepRecord{}
		var output sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.Name, &output, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Output = rawOrNil(output)
		out = append(out, rec)
	}
	return out, rows.Err()
}
