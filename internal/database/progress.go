package database

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/store"
)

type progressRow struct {
	id          string
	processedAt int64
	publishTime int64
}

// Progress is a store.ProgressStore kept in the progress table.
type Progress struct {
	mu      sync.Mutex
	db      *DB
	scope   Scope
	ids     map[string]bool
	pending []progressRow
	now     func() time.Time
}

var _ store.ProgressStore = (*Progress)(nil)

// Progress loads the completed IDs of scope.
func (d *DB) Progress(ctx context.Context, scope Scope) (*Progress, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT item_id FROM progress WHERE job = ? AND run_key = ?", scope.Job, scope.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	defer rows.Close()

	p := &Progress{db: d, scope: scope, ids: make(map[string]bool), now: time.Now}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		p.ids[id] = true
	}
	return p, rows.Err()
}

// Contains implements store.ProgressStore.
func (p *Progress) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ids[id]
}

// Add implements store.ProgressStore.
func (p *Progress) Add(_ context.Context, id string, meta map[string]string) error {
	row := progressRow{id: id, processedAt: p.now().Unix()}
	if v, err := strconv.ParseInt(meta[model.MetaPublishTime], 10, 64); err == nil {
		row.publishTime = v
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids[id] = true
	p.pending = append(p.pending, row)
	return nil
}

// Len implements store.ProgressStore.
func (p *Progress) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// Flush implements store.ProgressStore. Pending IDs are written in one transaction.
func (p *Progress) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return nil
	}

	tx, err := p.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", store.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO progress (job, run_key, item_id, processed_at, publish_time)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(job, run_key, item_id) DO UPDATE SET
		processed_at = excluded.processed_at,
		publish_time = excluded.publish_time
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare progress insert: %w", store.ErrPersistence, err)
	}
	defer stmt.Close()

	for _, row := range p.pending {
		if _, err := stmt.ExecContext(ctx, p.scope.Job, p.scope.Key, row.id, row.processedAt, row.publishTime); err != nil {
			return fmt.Errorf("%w: failed to insert progress: %w", store.ErrPersistence, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit progress: %w", store.ErrPersistence, err)
	}
	p.pending = p.pending[:0]
	return nil
}

// Close implements store.ProgressStore. The shared DB stays open.
func (p *Progress) Close() error {
	return p.Flush(context.Background())
}
