package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nao1215/harvester/internal/model"
)

// ProgressEntry is the metadata kept for one completed ID.
type ProgressEntry struct {
	ProcessedAt int64 `json:"processed_at"`
	PublishTime int64 `json:"publish_time,omitempty"`
}

// Progress is a ProgressStore backed by a JSON file.
//
// The file may hold a list of IDs or an object keyed by ID; it is always
// written back as the object form.
type Progress struct {
	mu      sync.Mutex
	path    string
	entries map[string]ProgressEntry
	dirty   bool
	backup  bool
	now     func() time.Time
}

var _ ProgressStore = (*Progress)(nil)

// OpenProgress loads the progress file at path. A missing file yields an
// empty store; an undecodable file yields ErrCorrupt.
//
// IDs saved to the backup file path+".bak" while the primary file could not
// be written are merged in, keeping the newer entry of an ID present in both.
// The next successful Flush writes them to path and removes the backup.
func OpenProgress(path string) (*Progress, error) {
	p := &Progress{
		path:    path,
		entries: make(map[string]ProgressEntry),
		now:     time.Now,
	}

	entries, err := readProgress(path)
	if err != nil {
		return nil, err
	}
	if entries != nil {
		p.entries = entries
	}

	backup, err := readProgress(p.backupPath())
	if err != nil {
		return nil, err
	}
	if backup != nil {
		p.backup = true
		p.dirty = true
		for id, entry := range backup {
			if cur, ok := p.entries[id]; ok && cur.ProcessedAt > entry.ProcessedAt {
				continue
			}
			p.entries[id] = entry
		}
	}
	return p, nil
}

// readProgress returns the entries stored at path, or nil if it does not exist.
func readProgress(path string) (map[string]ProgressEntry, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress file: %w", err)
	}
	entries, err := decodeProgress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	return entries, nil
}

func decodeProgress(data []byte) (map[string]ProgressEntry, error) {
	entries := make(map[string]ProgressEntry)
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return entries, nil
	}

	if data[0] == '[' {
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return nil, err
		}
		for _, id := range ids {
			entries[id] = ProgressEntry{}
		}
		return entries, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for id, value := range raw {
		var entry ProgressEntry
		// Entries written by older versions may be bare booleans or timestamps.
		_ = json.Unmarshal(value, &entry)
		entries[id] = entry
	}
	return entries, nil
}

func (p *Progress) backupPath() string {
	return p.path + ".bak"
}

// Path returns the file path.
func (p *Progress) Path() string {
	return p.path
}

// Contains implements ProgressStore.
func (p *Progress) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

// Add implements ProgressStore.
func (p *Progress) Add(_ context.Context, id string, meta map[string]string) error {
	entry := ProgressEntry{ProcessedAt: p.now().Unix()}
	if v, err := strconv.ParseInt(meta[model.MetaPublishTime], 10, 64); err == nil {
		entry.PublishTime = v
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[id] = entry
	p.dirty = true
	return nil
}

// Entry returns the metadata recorded for id.
func (p *Progress) Entry(id string) (ProgressEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	return e, ok
}

// IDs returns the completed IDs in sorted order.
func (p *Progress) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len implements ProgressStore.
func (p *Progress) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Flush implements ProgressStore. A clean store is not rewritten.
func (p *Progress) Flush(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dirty {
		return nil
	}

	data, err := json.MarshalIndent(p.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	err = writeWithBackup(p.path, p.backupPath(), data)
	switch {
	case err == nil:
		p.dirty = false
		if p.backup {
			// The primary file now holds everything the backup did.
			p.backup = false
			return removeBackup(p.backupPath())
		}
	case errors.Is(err, ErrBackupWritten):
		p.dirty = false
		p.backup = true
	}
	return err
}

// Close implements ProgressStore.
func (p *Progress) Close() error {
	return p.Flush(context.Background())
}

// Reset forgets every ID and removes the file and its backup.
func (p *Progress) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]ProgressEntry)
	p.dirty = false
	p.backup = false
	for _, path := range []string{p.path, p.backupPath()} {
		if err := removeFile(path); err != nil {
			return err
		}
	}
	return nil
}
