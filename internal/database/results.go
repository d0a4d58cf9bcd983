package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/harvester/internal/dedup"
	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/store"
)

// Results is a store.ResultSink kept in the results table.
type Results struct {
	mu      sync.Mutex
	db      *DB
	scope   Scope
	keys    *dedup.Set
	pending []model.ResultRecord
	now     func() time.Time
}

var _ store.ResultSink = (*Results)(nil)

// Results loads the dedup keys of scope.
func (d *DB) Results(ctx context.Context, scope Scope) (*Results, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT dedup_key FROM results WHERE job = ? AND run_key = ?", scope.Job, scope.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}
	defer rows.Close()

	r := &Results{db: d, scope: scope, keys: dedup.NewSet(), now: time.Now}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan result key: %w", err)
		}
		r.keys.Add(key)
	}
	return r, rows.Err()
}

// Has implements store.ResultSink.
func (r *Results) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys.Has(key)
}

// Contains reports whether a result was recorded for source. It lets a
// translation job treat its results as progress, as the CSV sink does.
func (r *Results) Contains(source string) bool {
	return r.Has(source)
}

// Append implements store.ResultSink. Records without a key are keyed by
// dedup.Key of their value.
func (r *Results) Append(_ context.Context, rec model.ResultRecord) (bool, error) {
	if strings.TrimSpace(rec.Value) == "" && rec.Key == "" {
		return false, nil
	}
	if rec.Key == "" {
		rec.Key = dedup.Key(rec.Value)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.keys.Add(rec.Key) {
		return false, nil
	}
	r.pending = append(r.pending, rec)
	return true, nil
}

// Len returns the number of stored and pending records.
func (r *Results) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys.Len()
}

// Flush implements store.ResultSink.
func (r *Results) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil
	}

	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", store.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO results (job, run_key, dedup_key, value, item_id, body, extra, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job, run_key, dedup_key) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare result insert: %w", store.ErrPersistence, err)
	}
	defer stmt.Close()

	now := r.now().Unix()
	for _, rec := range r.pending {
		extra, err := json.Marshal(rec.Extra)
		if err != nil {
			return fmt.Errorf("failed to encode result extra: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.scope.Job, r.scope.Key, rec.Key, rec.Value, rec.Item, rec.Body, string(extra), now); err != nil {
			return fmt.Errorf("%w: failed to insert result: %w", store.ErrPersistence, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit results: %w", store.ErrPersistence, err)
	}
	r.pending = r.pending[:0]
	return nil
}

// Close implements store.ResultSink.
func (r *Results) Close() error {
	return r.Flush(context.Background())
}

// Records returns the stored records of scope in insertion order.
func (d *DB) Records(ctx context.Context, scope Scope) ([]model.ResultRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT dedup_key, value, item_id, body, extra FROM results
	WHERE job = ? AND run_key = ?
	ORDER BY id
	`, scope.Job, scope.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var records []model.ResultRecord
	for rows.Next() {
		var rec model.ResultRecord
		var extra string
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.Item, &rec.Body, &extra); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if extra != "" && extra != "null" {
			if err := json.Unmarshal([]byte(extra), &rec.Extra); err != nil {
				return nil, fmt.Errorf("failed to parse result extra: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
