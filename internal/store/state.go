package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nao1215/harvester/internal/model"
)

// StateFile is a StateStore backed by a JSON file.
type StateFile struct {
	path string
	now  func() time.Time
}

var _ StateStore = (*StateFile)(nil)

// NewStateFile creates a StateFile at path. Nothing is read until LoadState.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path, now: time.Now}
}

// Path returns the file path.
func (f *StateFile) Path() string {
	return f.path
}

// LoadState implements StateStore. When a backup left by a failed save is
// newer than the file, the backup is returned.
func (f *StateFile) LoadState(_ context.Context) (*model.RunState, error) {
	state, err := readState(f.path)
	if err != nil {
		return nil, err
	}
	backup, err := readState(f.backupPath())
	if err != nil {
		return nil, err
	}
	if backup != nil && (state == nil || backup.UpdatedAt > state.UpdatedAt) {
		return backup, nil
	}
	return state, nil
}

func readState(path string) (*model.RunState, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	state := model.NewRunState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	return state, nil
}

// SaveState implements StateStore.
func (f *StateFile) SaveState(_ context.Context, state *model.RunState) error {
	state.Touch(f.now())
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := writeWithBackup(f.path, f.backupPath(), data); err != nil {
		return err
	}
	return removeBackup(f.backupPath())
}

func (f *StateFile) backupPath() string {
	return f.path + ".bak"
}

// ClearState implements StateStore.
func (f *StateFile) ClearState(_ context.Context) error {
	for _, p := range []string{f.path, f.backupPath()} {
		if err := removeFile(p); err != nil {
			return fmt.Errorf("failed to remove state file: %w", err)
		}
	}
	return nil
}
