package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nao1215/harvester/internal/dedup"
	"github.com/nao1215/harvester/internal/model"
)

// block puts an empty directory at path so writes to it fail until unblock.
func block(t *testing.T, path string) {
	t.Helper()
	if err := os.Mkdir(path, 0750); err != nil {
		t.Fatal(err)
	}
}

func unblock(t *testing.T, path string) {
	t.Helper()
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
}

func assertMissing(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected %s to be removed, got %v", filepath.Base(path), err)
	}
}

func TestProgress_RecoversBackup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("reopen after failed write keeps the id", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "p.json")
		p, err := OpenProgress(path)
		if err != nil {
			t.Fatal(err)
		}
		block(t, path)
		_ = p.Add(ctx, "cat a", nil)
		if err := p.Flush(ctx); !errors.Is(err, ErrBackupWritten) {
			t.Fatalf("expected ErrBackupWritten, got %v", err)
		}
		unblock(t, path)

		reopened, err := OpenProgress(path)
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		if !reopened.Contains("cat a") {
			t.Fatal("expected id from the backup file")
		}
		if err := reopened.Flush(ctx); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		assertMissing(t, path+".bak")

		again, err := OpenProgress(path)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"cat a"}, again.IDs()); diff != "" {
			t.Errorf("ids mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("newer entry wins", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "p.json")
		primary := `{"x": {"processed_at": 100}, "z": {"processed_at": 300}}`
		backup := `{"x": {"processed_at": 200}, "y": {"processed_at": 50}, "z": {"processed_at": 10}}`
		if err := os.WriteFile(path, []byte(primary), 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path+".bak", []byte(backup), 0600); err != nil {
			t.Fatal(err)
		}

		p, err := OpenProgress(path)
		if err != nil {
			t.Fatalf("OpenProgress failed: %v", err)
		}
		got := map[string]int64{}
		for _, id := range p.IDs() {
			e, _ := p.Entry(id)
			got[id] = e.ProcessedAt
		}
		want := map[string]int64{"x": 200, "y": 50, "z": 300}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("entries mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("corrupt backup is reported", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "p.json")
		if err := os.WriteFile(path+".bak", []byte(`{not json`), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := OpenProgress(path); !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("reset removes backup", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "p.json")
		if err := os.WriteFile(path+".bak", []byte(`["x"]`), 0600); err != nil {
			t.Fatal(err)
		}
		p, err := OpenProgress(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := p.Reset(); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		assertMissing(t, path+".bak")
	})
}

func TestLineSink_RecoversBackup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "cat.txt")
	backup := filepath.Join(dir, "backup_cat.txt")

	s, err := OpenLineSink(path)
	if err != nil {
		t.Fatal(err)
	}
	block(t, path)
	for _, v := range []string{"cat a", "cat b"} {
		if _, err := s.Append(ctx, model.ResultRecord{Value: v}); err != nil {
			t.Fatal(err)
		}
		if err := s.Flush(ctx); !errors.Is(err, ErrBackupWritten) {
			t.Fatalf("expected ErrBackupWritten, got %v", err)
		}
	}
	data, err := os.ReadFile(backup)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("cat a\ncat b\n", string(data)); diff != "" {
		t.Errorf("backup mismatch (-want +got):\n%s", diff)
	}
	unblock(t, path)

	reopened, err := OpenLineSink(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if !reopened.Has(dedup.Key("cat a")) || reopened.Len() != 2 {
		t.Fatalf("expected backup lines to be indexed, len %d", reopened.Len())
	}
	if added, _ := reopened.Append(ctx, model.ResultRecord{Value: "cat a"}); added {
		t.Error("expected line from the backup to count as present")
	}
	if _, err := reopened.Append(ctx, model.ResultRecord{Value: "cat c"}); err != nil {
		t.Fatal(err)
	}
	if err := reopened.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("cat a\ncat b\ncat c\n", string(data)); diff != "" {
		t.Errorf("file mismatch (-want +got):\n%s", diff)
	}
	assertMissing(t, backup)
}

func TestPairSink_RecoversBackup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("reopen after failed write keeps the row", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		path := filepath.Join(dir, "out.csv")
		s, err := OpenPairSink(path)
		if err != nil {
			t.Fatal(err)
		}
		block(t, path)
		_, _ = s.Append(ctx, model.ResultRecord{Item: "hello", Value: "你好"})
		if err := s.Flush(ctx); !errors.Is(err, ErrBackupWritten) {
			t.Fatalf("expected ErrBackupWritten, got %v", err)
		}
		unblock(t, path)

		reopened, err := OpenPairSink(path)
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		if !reopened.Contains("hello") {
			t.Fatal("expected row from the backup file")
		}
		if err := reopened.Flush(ctx); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff("\xEF\xBB\xBFsource,translation\nhello,你好\n", string(data)); diff != "" {
			t.Errorf("csv mismatch (-want +got):\n%s", diff)
		}
		assertMissing(t, filepath.Join(dir, "backup_out.csv"))
	})

	t.Run("backup wins over file", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		path := filepath.Join(dir, "out.csv")
		if err := os.WriteFile(path, []byte("source,translation\nhello,旧\n"), 0600); err != nil {
			t.Fatal(err)
		}
		backup := "source,translation\nhello,新\nworld,世界\n"
		if err := os.WriteFile(filepath.Join(dir, "backup_out.csv"), []byte(backup), 0600); err != nil {
			t.Fatal(err)
		}

		s, err := OpenPairSink(path)
		if err != nil {
			t.Fatalf("OpenPairSink failed: %v", err)
		}
		if tr, _ := s.Translation("hello"); tr != "新" {
			t.Errorf("expected the backup translation, got %q", tr)
		}
		if s.Len() != 2 {
			t.Errorf("expected 2 rows, got %d", s.Len())
		}
	})
}

func TestDocumentSink_RecoversBackup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	backup := filepath.Join(dir, "backup_Weekly notes.md")
	if err := os.WriteFile(backup, []byte("---\ntitle: Weekly notes\n---\n\nbody\n"), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := OpenDocumentSink(dir)
	if err != nil {
		t.Fatalf("OpenDocumentSink failed: %v", err)
	}
	if !s.HasTitle("Weekly notes") {
		t.Error("expected the backup document to be indexed under its title")
	}
	if s.Has("backup_Weekly notes") || s.Len() != 1 {
		t.Errorf("backup file indexed as its own document, len %d", s.Len())
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "Weekly notes.md"))
	if err != nil {
		t.Fatalf("document not moved into place: %v", err)
	}
	if diff := cmp.Diff("---\ntitle: Weekly notes\n---\n\nbody\n", string(data)); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
	assertMissing(t, backup)
}

func TestStateFile_RecoversBackup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "exporter_state.json")
	f := NewStateFile(path)

	older := `{"version": "1.0", "next_begin_index": 5, "last_update_time": 100}`
	newer := `{"version": "1.0", "next_begin_index": 15, "last_update_time": 200}`
	if err := os.WriteFile(path, []byte(older), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path+".bak", []byte(newer), 0600); err != nil {
		t.Fatal(err)
	}

	state, err := f.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if state.NextCursor != 15 {
		t.Errorf("expected the newer backup cursor 15, got %d", state.NextCursor)
	}

	if err := f.SaveState(ctx, state); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}
	assertMissing(t, path+".bak")
	if loaded, _ := f.LoadState(ctx); loaded == nil || loaded.NextCursor != 15 {
		t.Errorf("unexpected state after save %+v", loaded)
	}
}
