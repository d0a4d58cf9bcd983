package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/store"
)

// State is a store.StateStore kept in the run_states table.
type State struct {
	db    *DB
	scope Scope
	now   func() time.Time
}

var _ store.StateStore = (*State)(nil)

// State returns the resume cursor handle of scope.
func (d *DB) State(scope Scope) *State {
	return &State{db: d, scope: scope, now: time.Now}
}

// LoadState implements store.StateStore.
func (s *State) LoadState(ctx context.Context) (*model.RunState, error) {
	var data string
	err := s.db.db.QueryRowContext(ctx,
		"SELECT state FROM run_states WHERE job = ? AND run_key = ?", s.scope.Job, s.scope.Key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run state: %w", err)
	}

	state := model.NewRunState()
	if err := json.Unmarshal([]byte(data), state); err != nil {
		return nil, fmt.Errorf("%w: run state of %s/%s: %w", store.ErrCorrupt, s.scope.Job, s.scope.Key, err)
	}
	return state, nil
}

// SaveState implements store.StateStore.
func (s *State) SaveState(ctx context.Context, state *model.RunState) error {
	state.Touch(s.now())
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode run state: %w", err)
	}

	_, err = s.db.db.ExecContext(ctx, `
	INSERT INTO run_states (job, run_key, state, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(job, run_key) DO UPDATE SET
		state = excluded.state,
		updated_at = excluded.updated_at
	`, s.scope.Job, s.scope.Key, string(data), state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to save run state: %w", store.ErrPersistence, err)
	}
	return nil
}

// ClearState implements store.StateStore.
func (s *State) ClearState(ctx context.Context) error {
	if _, err := s.db.db.ExecContext(ctx,
		"DELETE FROM run_states WHERE job = ? AND run_key = ?", s.scope.Job, s.scope.Key); err != nil {
		return fmt.Errorf("failed to clear run state: %w", err)
	}
	return nil
}
