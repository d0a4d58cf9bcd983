package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/nao1215/harvester/internal/model"
)

// Extra keys understood by DocumentSink.
const (
	// ExtraDate is the front matter date of a document.
	ExtraDate = "date"

	// ExtraURL is the source URL of a document.
	ExtraURL = "url"
)

const (
	documentExt     = ".md"
	maxFilenameRune = 150
	untitled        = "untitled"
)

var (
	illegalFilenameChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)
	whitespaceRun        = regexp.MustCompile(`\s+`)
)

// SanitizeFilename turns a title into a file name stem: characters that are
// illegal in file names are removed, whitespace runs collapse to one space and
// the result is capped at 150 runes.
func SanitizeFilename(title string) string {
	name := illegalFilenameChars.ReplaceAllString(title, "")
	name = strings.TrimSpace(whitespaceRun.ReplaceAllString(name, " "))
	name = strings.Trim(name, ".")
	if utf8.RuneCountInString(name) > maxFilenameRune {
		name = strings.TrimSpace(string([]rune(name)[:maxFilenameRune]))
	}
	if name == "" {
		return untitled
	}
	return name
}

type frontMatter struct {
	Title  string `yaml:"title"`
	Date   string `yaml:"date,omitempty"`
	Source string `yaml:"source,omitempty"`
}

// DocumentSink stores each record as a Markdown file with YAML front matter.
// Records are keyed by the sanitized title, which is also the file name stem.
type DocumentSink struct {
	mu      sync.Mutex
	dir     string
	keys    map[string]bool
	pending map[string][]byte
	order   []string
	// restored holds keys whose pending document came from a backup file.
	restored map[string]bool
}

var _ ResultSink = (*DocumentSink)(nil)

// OpenDocumentSink opens the output directory, indexing existing documents.
//
// A backup_<name>.md left by a failed write is queued under its own key when
// <name>.md is missing, so the next successful Flush moves it into place.
func OpenDocumentSink(dir string) (*DocumentSink, error) {
	s := &DocumentSink{
		dir:      dir,
		keys:     make(map[string]bool),
		pending:  make(map[string][]byte),
		restored: make(map[string]bool),
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}
	var backups []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != documentExt {
			continue
		}
		key := strings.TrimSuffix(e.Name(), documentExt)
		if orig, ok := strings.CutPrefix(key, backupPrefix); ok {
			backups = append(backups, orig)
			continue
		}
		s.keys[key] = true
	}
	for _, key := range backups {
		if s.keys[key] {
			continue
		}
		path := backupPath(filepath.Join(dir, key+documentExt))
		doc, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read backup document: %w", err)
		}
		s.keys[key] = true
		s.pending[key] = doc
		s.order = append(s.order, key)
		s.restored[key] = true
	}
	return s, nil
}

// Dir returns the output directory.
func (s *DocumentSink) Dir() string {
	return s.dir
}

// KeyFor returns the key a record titled title is stored under.
func (s *DocumentSink) KeyFor(title string) string {
	return SanitizeFilename(title)
}

// Len returns the number of documents, including unflushed ones.
func (s *DocumentSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// HasTitle reports whether a document for title exists.
func (s *DocumentSink) HasTitle(title string) bool {
	return s.Has(s.KeyFor(title))
}

// Has implements ResultSink.
func (s *DocumentSink) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key]
}

// Append implements ResultSink. Value is the title and Body the Markdown body.
func (s *DocumentSink) Append(_ context.Context, rec model.ResultRecord) (bool, error) {
	title := strings.TrimSpace(rec.Value)
	key := rec.Key
	if key == "" {
		key = s.KeyFor(title)
	}

	doc, err := renderDocument(title, rec)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	s.pending[key] = doc
	s.order = append(s.order, key)
	return true, nil
}

func renderDocument(title string, rec model.ResultRecord) ([]byte, error) {
	meta, err := yaml.Marshal(frontMatter{
		Title:  title,
		Date:   rec.Extra[ExtraDate],
		Source: rec.Extra[ExtraURL],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(meta)
	buf.WriteString("---\n\n")
	buf.WriteString("# " + title + "\n\n")
	buf.WriteString(strings.TrimSpace(rec.Body))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// Flush implements ResultSink. Documents that cannot be written are saved as
// backup_<name>.md in the same directory.
func (s *DocumentSink) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	remaining := s.order[:0]
	for _, key := range s.order {
		path := filepath.Join(s.dir, key+documentExt)
		err := writeWithBackup(path, backupPath(path), s.pending[key])
		if err != nil {
			errs = append(errs, err)
		}
		if err != nil && !errors.Is(err, ErrBackupWritten) {
			remaining = append(remaining, key)
			continue
		}
		delete(s.pending, key)
		if err == nil && s.restored[key] {
			if err := removeBackup(backupPath(path)); err != nil {
				errs = append(errs, err)
			}
		}
		delete(s.restored, key)
	}
	s.order = remaining
	return errors.Join(errs...)
}

// Close implements ResultSink.
func (s *DocumentSink) Close() error {
	return s.Flush(context.Background())
}
