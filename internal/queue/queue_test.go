package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/store"
)

type idSet map[string]bool

func (s idSet) Contains(id string) bool { return s[id] }

func TestAlphabet(t *testing.T) {
	t.Parallel()

	items, err := Alphabet{Root: " cat "}.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(items) != 936 {
		t.Fatalf("expected 936 items, got %d", len(items))
	}

	ids := model.IDs(items)
	if diff := cmp.Diff([]string{"cat aa", "cat ab"}, ids[:2]); diff != "" {
		t.Errorf("head mismatch (-want +got):\n%s", diff)
	}
	if ids[26] != "cat a0" || ids[35] != "cat a9" || ids[36] != "cat ba" || ids[935] != "cat z9" {
		t.Errorf("unexpected order around boundaries: %q %q %q %q", ids[26], ids[35], ids[36], ids[935])
	}
	if items[40].Family != "cat b" || items[40].Seed != "cat" {
		t.Errorf("unexpected family/seed %+v", items[40])
	}

	again, _ := Alphabet{Root: "cat"}.Generate()
	if diff := cmp.Diff(items, again); diff != "" {
		t.Errorf("generation is not deterministic (-first +second):\n%s", diff)
	}

	custom, _ := Alphabet{Root: "cat", First: "ab", Second: "x"}.Generate()
	if diff := cmp.Diff([]string{"cat ax", "cat bx"}, model.IDs(custom)); diff != "" {
		t.Errorf("custom alphabet mismatch (-want +got):\n%s", diff)
	}

	if _, err := (Alphabet{Root: "  "}).Generate(); !errors.Is(err, ErrEmptyRoot) {
		t.Errorf("expected ErrEmptyRoot, got %v", err)
	}
}

func TestLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "words.txt")
	content := "\ufeffhello\n\n  world  \nhello\nfoo\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	items, err := Lines{Path: path}.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if diff := cmp.Diff([]string{"hello", "world", "foo"}, model.IDs(items)); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}

	if _, err := (Lines{Path: filepath.Join(t.TempDir(), "missing.txt")}).Generate(); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStatic(t *testing.T) {
	t.Parallel()

	items, _ := Static{Items: []model.WorkItem{
		model.NewWorkItem("a"), model.NewWorkItem(""), model.NewWorkItem("b"), model.NewWorkItem("a"),
	}}.Generate()
	if diff := cmp.Diff([]string{"a", "b"}, model.IDs(items)); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestPending(t *testing.T) {
	t.Parallel()

	items := []model.WorkItem{model.NewWorkItem("cat a"), model.NewWorkItem("cat b"), model.NewWorkItem("cat c")}
	pending, skipped := Pending(items, idSet{"cat a": true}, nil, idSet{"cat c": true})

	if diff := cmp.Diff([]string{"cat b"}, model.IDs(pending)); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}
	if skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", skipped)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{input: "incremental", want: ModeIncremental},
		{input: "", want: ModeIncremental},
		{input: "full", want: ModeFull},
		{input: "fast", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, err := ParseMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// fakePager serves fixed pages of the given size from ids.
type fakePager struct {
	ids     []string
	size    int
	failAt  int
	cursors []int
}

func (p *fakePager) Page(_ context.Context, cursor int) (Page, error) {
	p.cursors = append(p.cursors, cursor)
	if p.failAt > 0 && cursor == p.failAt {
		return Page{}, errors.New("listing unavailable")
	}
	if cursor >= len(p.ids) {
		return Page{}, nil
	}
	end := min(cursor+p.size, len(p.ids))
	var items []model.WorkItem
	for _, id := range p.ids[cursor:end] {
		items = append(items, model.NewWorkItem(id))
	}
	return Page{Items: items}, nil
}

func urls(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("https://example.com/s/%02d", i)
	}
	return ids
}

func newTestCollector(t *testing.T, pager Pager, progress store.Completed, opts ...CollectorOption) (*Collector, *store.StateFile) {
	t.Helper()

	state := store.NewStateFile(filepath.Join(t.TempDir(), "exporter_state.json"))
	opts = append([]CollectorOption{WithPageDelay(0)}, opts...)
	return NewCollector(pager, progress, state, opts...), state
}

func TestCollector(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("walks every page until an empty page", func(t *testing.T) {
		t.Parallel()

		pager := &fakePager{ids: urls(12), size: 5}
		c, state := newTestCollector(t, pager, idSet{})

		items, err := c.Collect(ctx)
		if err != nil {
			t.Fatalf("Collect failed: %v", err)
		}
		if len(items) != 12 {
			t.Errorf("expected 12 items, got %d", len(items))
		}
		if diff := cmp.Diff([]int{0, 5, 10, 12}, pager.cursors); diff != "" {
			t.Errorf("cursor mismatch (-want +got):\n%s", diff)
		}
		saved, _ := state.LoadState(ctx)
		if saved == nil || saved.NextCursor != 12 || len(saved.Items) != 12 {
			t.Errorf("unexpected saved state %+v", saved)
		}
	})

	t.Run("incremental mode stops at consecutive processed items", func(t *testing.T) {
		t.Parallel()

		ids := urls(20)
		done := idSet{}
		for _, id := range ids[2:] {
			done[id] = true
		}
		pager := &fakePager{ids: ids, size: 10}
		c, _ := newTestCollector(t, pager, done)

		items, err := c.Collect(ctx)
		if err != nil {
			t.Fatalf("Collect failed: %v", err)
		}
		if diff := cmp.Diff(ids[:2], model.IDs(items)); diff != "" {
			t.Errorf("items mismatch (-want +got):\n%s", diff)
		}
		if len(pager.cursors) != 1 {
			t.Errorf("expected a single page request, got %v", pager.cursors)
		}
	})

	t.Run("full mode walks past processed items", func(t *testing.T) {
		t.Parallel()

		ids := urls(20)
		done := idSet{}
		for _, id := range ids[2:18] {
			done[id] = true
		}
		pager := &fakePager{ids: ids, size: 10}
		c, _ := newTestCollector(t, pager, done, WithMode(ModeFull))

		items, err := c.Collect(ctx)
		if err != nil {
			t.Fatalf("Collect failed: %v", err)
		}
		want := []string{ids[0], ids[1], ids[18], ids[19]}
		if diff := cmp.Diff(want, model.IDs(items)); diff != "" {
			t.Errorf("items mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("limit caps collection", func(t *testing.T) {
		t.Parallel()

		pager := &fakePager{ids: urls(30), size: 10}
		c, _ := newTestCollector(t, pager, idSet{}, WithLimit(15))

		items, err := c.Collect(ctx)
		if err != nil {
			t.Fatalf("Collect failed: %v", err)
		}
		if len(items) != 15 {
			t.Errorf("expected 15 items, got %d", len(items))
		}
	})

	t.Run("resumes from saved cursor after a page error", func(t *testing.T) {
		t.Parallel()

		ids := urls(20)
		pager := &fakePager{ids: ids, size: 5, failAt: 10}
		state := store.NewStateFile(filepath.Join(t.TempDir(), "state.json"))
		c := NewCollector(pager, idSet{}, state, WithPageDelay(0))

		items, err := c.Collect(ctx)
		if err == nil {
			t.Fatal("expected page error")
		}
		if len(items) != 10 {
			t.Errorf("expected 10 items collected before the error, got %d", len(items))
		}

		pager.failAt = 0
		pager.cursors = nil
		items, err = NewCollector(pager, idSet{}, state, WithPageDelay(0)).Collect(ctx)
		if err != nil {
			t.Fatalf("resumed Collect failed: %v", err)
		}
		if pager.cursors[0] != 10 {
			t.Errorf("expected resume at cursor 10, got %v", pager.cursors)
		}
		if diff := cmp.Diff(ids, model.IDs(items)); diff != "" {
			t.Errorf("items mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("stops after too many pages without new items", func(t *testing.T) {
		t.Parallel()

		pager := &filteringPager{}
		c, _ := newTestCollector(t, pager, idSet{}, WithMaxEmptyPages(4))

		items, err := c.Collect(ctx)
		if err != nil {
			t.Fatalf("Collect failed: %v", err)
		}
		if len(items) != 0 || pager.calls != 4 {
			t.Errorf("expected 4 page requests and no items, got %d requests and %d items", pager.calls, len(items))
		}
	})

	t.Run("cancellation during page delay", func(t *testing.T) {
		t.Parallel()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		pager := &fakePager{ids: urls(20), size: 5}
		state := store.NewStateFile(filepath.Join(t.TempDir(), "state.json"))
		c := NewCollector(pager, idSet{}, state, WithPageDelay(DefaultPageDelay))

		items, err := c.Collect(cctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if len(items) != 5 {
			t.Errorf("expected first page to be kept, got %d", len(items))
		}
	})
}

// filteringPager lists entries that are all filtered out by the pager itself.
type filteringPager struct {
	calls int
}

func (p *filteringPager) Page(_ context.Context, _ int) (Page, error) {
	p.calls++
	return Page{Size: 5}, nil
}
