package queue

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/store"
)

// Generator produces the work items of a run.
type Generator interface {
	Generate() ([]model.WorkItem, error)
}

const (
	lowerLetters = "abcdefghijklmnopqrstuvwxyz"
	digits       = "0123456789"
)

// Alphabet expands a root term into two character completions:
// "cat aa" ... "cat az", "cat a0" ... "cat a9", "cat ba", ...
// Every item of one first letter shares the family "cat a".
type Alphabet struct {
	// Root is the seed term.
	Root string

	// First is the set of first characters. Empty means a-z.
	First string

	// Second is the set of second characters. Empty means a-z then 0-9.
	Second string
}

// Generate implements Generator.
func (a Alphabet) Generate() ([]model.WorkItem, error) {
	root := strings.Join(strings.Fields(a.Root), " ")
	if root == "" {
		return nil, ErrEmptyRoot
	}
	first := a.First
	if first == "" {
		first = lowerLetters
	}
	second := a.Second
	if second == "" {
		second = lowerLetters + digits
	}

	items := make([]model.WorkItem, 0, len(first)*len(second))
	for _, f := range first {
		family := root + " " + string(f)
		for _, s := range second {
			items = append(items, model.WorkItem{
				ID:     family + string(s),
				Family: family,
				Seed:   root,
			})
		}
	}
	return items, nil
}

// Lines reads one work item per line from a word list file. Lines are
// trimmed, blank lines are dropped, and repeated words keep their first
// position.
type Lines struct {
	Path string
}

// Generate implements Generator.
func (l Lines) Generate() ([]model.WorkItem, error) {
	f, err := os.Open(filepath.Clean(l.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open word list: %w", err)
	}
	defer f.Close()
	return ReadLines(f)
}

// ReadLines parses a word list from r the way Lines does.
func ReadLines(r io.Reader) ([]model.WorkItem, error) {
	var items []model.WorkItem
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		word := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if word == "" || seen[word] {
			continue
		}
		seen[word] = true
		items = append(items, model.NewWorkItem(word))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read word list: %w", err)
	}
	return items, nil
}

// Static yields pre-built items, dropping repeated IDs.
type Static struct {
	Items []model.WorkItem
}

// Generate implements Generator.
func (s Static) Generate() ([]model.WorkItem, error) {
	seen := make(map[string]bool, len(s.Items))
	items := make([]model.WorkItem, 0, len(s.Items))
	for _, item := range s.Items {
		if item.ID == "" || seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		items = append(items, item)
	}
	return items, nil
}

// Pending returns the items none of done contains, preserving order, and
// the number of items dropped.
func Pending(items []model.WorkItem, done ...store.Completed) ([]model.WorkItem, int) {
	pending := make([]model.WorkItem, 0, len(items))
	skipped := 0
	for _, item := range items {
		if isDone(item.ID, done) {
			skipped++
			continue
		}
		pending = append(pending, item)
	}
	return pending, skipped
}

func isDone(id string, done []store.Completed) bool {
	for _, d := range done {
		if d != nil && d.Contains(id) {
			return true
		}
	}
	return false
}
