package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nao1215/harvester/internal/model"
)

// ExtraSource is the ResultRecord.Extra key holding the source column of a pair.
const ExtraSource = "source"

// utf8BOM lets spreadsheet applications detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// PairSink stores source/translation pairs in a two column CSV file.
//
// Records are keyed by the source word, so the CSV also serves as the
// progress record of a translation job: Contains reports whether a source
// word already has a row.
//
// New rows are appended on Flush. The file is rewritten as a whole only
// after Reorder, after a failed append, or when rows were recovered from
// the backup file.
type PairSink struct {
	mu     sync.Mutex
	path   string
	header []string
	order  []string
	rows   map[string]string
	// written counts the leading rows of order already in the file.
	written int
	rewrite bool
	backup  bool
}

var (
	_ ResultSink = (*PairSink)(nil)
	_ Completed  = (*PairSink)(nil)
)

// DefaultPairHeader is the header row of a translation CSV.
var DefaultPairHeader = []string{"source", "translation"}

// OpenPairSink opens the CSV at path and loads its rows.
//
// Rows saved to backup_<name> while path could not be written are merged
// in, the backup winning for a source present in both. The next successful
// Flush rewrites path with them and removes the backup.
func OpenPairSink(path string) (*PairSink, error) {
	s := &PairSink{
		path:   path,
		header: DefaultPairHeader,
		rows:   make(map[string]string),
	}

	pairs, err := s.readPairs(path)
	if err != nil {
		return nil, err
	}
	for _, pair := range pairs {
		s.put(pair[0], pair[1])
	}
	s.written = len(s.order)

	backup := backupPath(path)
	if _, err := os.Stat(backup); err != nil {
		return s, nil
	}
	pairs, err = s.readPairs(backup)
	if err != nil {
		return nil, err
	}
	for _, pair := range pairs {
		if !s.put(pair[0], pair[1]) {
			s.rows[pair[0]] = pair[1]
		}
	}
	s.backup = true
	s.rewrite = true
	return s, nil
}

// readPairs parses the CSV at path into source/translation pairs. A missing
// file has none.
func (s *PairSink) readPairs(path string) ([][2]string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result file: %w", err)
	}

	var pairs [][2]string
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.FieldsPerRecord = -1
	first := true
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
		}
		if first {
			first = false
			if len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), s.header[0]) {
				continue
			}
		}
		if len(record) == 0 {
			continue
		}
		source := strings.TrimSpace(record[0])
		if source == "" {
			continue
		}
		translation := ""
		if len(record) > 1 {
			translation = record[1]
		}
		pairs = append(pairs, [2]string{source, translation})
	}
	return pairs, nil
}

func (s *PairSink) put(source, translation string) bool {
	if _, ok := s.rows[source]; ok {
		return false
	}
	s.rows[source] = translation
	s.order = append(s.order, source)
	return true
}

// Path returns the file path.
func (s *PairSink) Path() string {
	return s.path
}

// Has implements ResultSink. The key is the source word.
func (s *PairSink) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[key]
	return ok
}

// Contains implements Completed.
func (s *PairSink) Contains(id string) bool {
	return s.Has(id)
}

// Translation returns the stored translation of source.
func (s *PairSink) Translation(source string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[source]
	return t, ok
}

// Len returns the number of rows.
func (s *PairSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Append implements ResultSink. The source is Extra[ExtraSource], falling
// back to the record's item ID; the translation is the record value.
func (s *PairSink) Append(_ context.Context, rec model.ResultRecord) (bool, error) {
	source := rec.Extra[ExtraSource]
	if source == "" {
		source = rec.Item
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(source, rec.Value), nil
}

// Reorder sorts the rows so sources listed in order come first, in that order.
// Rows not in order keep their relative position after them.
func (s *PairSink) Reorder(order []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(s.order))
	sorted := make([]string, 0, len(s.order))
	for _, source := range order {
		if _, ok := s.rows[source]; ok && !seen[source] {
			seen[source] = true
			sorted = append(sorted, source)
		}
	}
	for _, source := range s.order {
		if !seen[source] {
			sorted = append(sorted, source)
		}
	}
	s.order = sorted
	s.rewrite = true
}

// Flush implements ResultSink. Rows added since the last Flush are appended
// to the file, or the whole file is rewritten atomically when a rewrite is
// pending. On failure every row is written to backup_<name> next to it.
func (s *PairSink) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.rewrite {
		if s.written == len(s.order) {
			return nil
		}
		info, err := os.Stat(s.path)
		switch {
		case errors.Is(err, os.ErrNotExist) && s.written > 0:
			// The file vanished under us; write it again from memory.
			s.rewrite = true
		case err == nil && info.Size() > 0:
			data, err := s.encode(false, s.order[s.written:])
			if err != nil {
				return err
			}
			if appendErr := appendFile(s.path, data); appendErr == nil {
				s.written = len(s.order)
				return nil
			}
			// A failed append may leave a partial row behind.
			s.rewrite = true
		default:
			s.rewrite = true
		}
	}

	data, err := s.encode(true, s.order)
	if err != nil {
		return err
	}
	err = writeWithBackup(s.path, backupPath(s.path), data)
	if err != nil {
		if errors.Is(err, ErrBackupWritten) {
			s.backup = true
		}
		return err
	}
	s.rewrite = false
	s.written = len(s.order)
	if s.backup {
		s.backup = false
		return removeBackup(backupPath(s.path))
	}
	return nil
}

// encode renders sources as CSV rows, preceded by the BOM and header when
// header is set.
func (s *PairSink) encode(header bool, sources []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if header {
		buf.Write(utf8BOM)
		if err := w.Write(s.header); err != nil {
			return nil, fmt.Errorf("failed to encode header: %w", err)
		}
	}
	for _, source := range sources {
		if err := w.Write([]string{source, s.rows[source]}); err != nil {
			return nil, fmt.Errorf("failed to encode row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Close implements ResultSink.
func (s *PairSink) Close() error {
	return s.Flush(context.Background())
}
