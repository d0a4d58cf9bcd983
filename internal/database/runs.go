package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nao1215/harvester/internal/model"
)

// ErrNoRunID is returned by SaveRun for summaries without a RunID.
var ErrNoRunID = errors.New("run summary has no run id")

// SaveRun records a finished run. Saving the same RunID twice replaces it.
func (d *DB) SaveRun(ctx context.Context, summary *model.RunSummary) error {
	if summary.RunID == "" {
		return ErrNoRunID
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
	INSERT INTO runs (id, job, run_key, status, summary, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		summary = excluded.summary,
		finished_at = excluded.finished_at
	`,
		summary.RunID,
		summary.Job,
		summary.Key,
		summary.Status.String(),
		string(data),
		summary.StartedAt.Unix(),
		summary.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Runs returns up to limit runs of scope, newest first. limit <= 0 means all.
func (d *DB) Runs(ctx context.Context, scope Scope, limit int) ([]*model.RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, `
	SELECT summary FROM runs
	WHERE job = ? AND run_key = ?
	ORDER BY started_at DESC, rowid DESC
	LIMIT ?
	`, scope.Job, scope.Key, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.RunSummary
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var s model.RunSummary
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("failed to parse run summary: %w", err)
		}
		runs = append(runs, &s)
	}
	return runs, rows.Err()
}
