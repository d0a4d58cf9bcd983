package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nao1215/harvester/internal/dedup"
	"github.com/nao1215/harvester/internal/model"
)

// LineSink stores one result per line in a text file.
// Records are keyed by dedup.Key of their value unless they carry a key.
type LineSink struct {
	mu      sync.Mutex
	path    string
	keys    *dedup.Set
	lines   int
	pending []string
	// saved counts the leading pending lines already in the backup file.
	saved  int
	backup bool
}

var _ ResultSink = (*LineSink)(nil)

// OpenLineSink opens the sink at path, indexing the lines already present.
//
// Lines appended to backup_<name> while path could not be written are
// indexed too and queued, so the next successful Flush appends them to path
// and removes the backup.
func OpenLineSink(path string) (*LineSink, error) {
	s := &LineSink{path: path, keys: dedup.NewSet()}

	if err := scanLines(path, func(line string) {
		if s.keys.Add(dedup.Key(line)) {
			s.lines++
		}
	}); err != nil {
		return nil, err
	}

	backup := backupPath(path)
	if _, err := os.Stat(backup); err == nil {
		s.backup = true
	}
	if err := scanLines(backup, func(line string) {
		if s.keys.Add(dedup.Key(line)) {
			s.lines++
			s.pending = append(s.pending, line)
		}
	}); err != nil {
		return nil, err
	}
	s.saved = len(s.pending)
	return s, nil
}

// scanLines calls fn for each non-empty line of path. A missing file has no lines.
func scanLines(path string, fn func(line string)) error {
	f, err := os.Open(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open result file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read result file %s: %w", path, err)
	}
	return nil
}

// Path returns the file path.
func (s *LineSink) Path() string {
	return s.path
}

// Has implements ResultSink.
func (s *LineSink) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys.Has(key)
}

// Append implements ResultSink. Values containing newlines are flattened.
func (s *LineSink) Append(_ context.Context, rec model.ResultRecord) (bool, error) {
	value := strings.Join(strings.Fields(rec.Value), " ")
	if value == "" {
		return false, nil
	}
	key := rec.Key
	if key == "" {
		key = dedup.Key(value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.keys.Add(key) {
		return false, nil
	}
	s.pending = append(s.pending, value)
	s.lines++
	return true, nil
}

// Len returns the number of stored and pending lines.
func (s *LineSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

// Flush implements ResultSink. Lines that cannot be appended to the file are
// appended to backup_<name> next to it and stay queued for the file.
func (s *LineSink) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := backupPath(s.path)
	if len(s.pending) == 0 {
		if s.backup {
			// Everything in the backup is already in the file.
			s.backup = false
			return removeBackup(backup)
		}
		return nil
	}

	primaryErr := appendFile(s.path, joinLines(s.pending))
	if primaryErr == nil {
		s.pending = s.pending[:0]
		s.saved = 0
		if s.backup {
			s.backup = false
			return removeBackup(backup)
		}
		return nil
	}

	if fresh := s.pending[s.saved:]; len(fresh) > 0 {
		if err := appendFile(backup, joinLines(fresh)); err != nil {
			return fmt.Errorf("%w: %s: %w (backup %s: %w)", ErrPersistence, s.path, primaryErr, backup, err)
		}
	}
	s.saved = len(s.pending)
	s.backup = true
	return fmt.Errorf("%w: %s: %w (saved to %s)", ErrBackupWritten, s.path, primaryErr, backup)
}

func joinLines(lines []string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

// Close implements ResultSink.
func (s *LineSink) Close() error {
	return s.Flush(context.Background())
}
