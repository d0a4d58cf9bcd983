package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nao1215/harvester/internal/model"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "state", "nested")
		db, err := Open(dir, DefaultOptions())
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer db.Close()

		if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
			t.Errorf("database file was not created: %v", err)
		}
	})

	t.Run("missing database without create fails", func(t *testing.T) {
		t.Parallel()

		if _, err := Open(t.TempDir(), Options{}); err == nil {
			t.Error("expected error for missing database")
		}
	})
}

func TestProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t)
	scope := Scope{Job: "suggest", Key: "cat"}

	p, err := db.Progress(ctx, scope)
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	_ = p.Add(ctx, "cat a", nil)
	_ = p.Add(ctx, "cat b", map[string]string{model.MetaPublishTime: "1700000000"})
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	reloaded, err := db.Progress(ctx, scope)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.Contains("cat a") || !reloaded.Contains("cat b") || reloaded.Len() != 2 {
		t.Errorf("progress not persisted, len=%d", reloaded.Len())
	}

	other, err := db.Progress(ctx, Scope{Job: "suggest", Key: "dog"})
	if err != nil {
		t.Fatal(err)
	}
	if other.Len() != 0 {
		t.Errorf("scopes must not share progress, got %d", other.Len())
	}
}

func TestProgress_UnflushedIsLost(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t)
	scope := Scope{Job: "suggest", Key: "cat"}

	p, _ := db.Progress(ctx, scope)
	_ = p.Add(ctx, "cat a", nil)

	reloaded, _ := db.Progress(ctx, scope)
	if reloaded.Contains("cat a") {
		t.Error("an unflushed add must not be durable")
	}
}

func TestResults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t)
	scope := Scope{Job: "suggest", Key: "cat"}

	r, err := db.Results(ctx, scope)
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	for _, v := range []string{"cat apple", "CAT APPLE", "cat bed"} {
		if _, err := r.Append(ctx, model.ResultRecord{Value: v, Item: "cat a"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	records, err := db.Records(ctx, scope)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	var values []string
	for _, rec := range records {
		values = append(values, rec.Value)
	}
	if diff := cmp.Diff([]string{"cat apple", "cat bed"}, values); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}

	reloaded, _ := db.Results(ctx, scope)
	if added, _ := reloaded.Append(ctx, model.ResultRecord{Value: "cat bed"}); added {
		t.Error("expected duplicate to be dropped after reload")
	}
}

func TestState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t)
	s := db.State(Scope{Job: "articles", Key: "account"})

	if state, err := s.LoadState(ctx); err != nil || state != nil {
		t.Fatalf("expected no state, got %v %v", state, err)
	}

	saved := model.NewRunState()
	saved.NextCursor = 20
	saved.Items = []model.WorkItem{model.NewWorkItem("https://example.com/a")}
	if err := s.SaveState(ctx, saved); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}
	saved.NextCursor = 25
	if err := s.SaveState(ctx, saved); err != nil {
		t.Fatalf("second SaveState failed: %v", err)
	}

	loaded, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if loaded.NextCursor != 25 || len(loaded.Items) != 1 {
		t.Errorf("unexpected state %+v", loaded)
	}

	if err := s.ClearState(ctx); err != nil {
		t.Fatalf("ClearState failed: %v", err)
	}
	if loaded, _ := s.LoadState(ctx); loaded != nil {
		t.Error("expected cleared state")
	}
}

func TestRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t)
	scope := Scope{Job: "suggest", Key: "cat"}
	start := time.Unix(1700000000, 0).UTC()

	for i, status := range []model.RunStatus{model.StatusInterrupted, model.StatusCompleted} {
		s := &model.RunSummary{
			RunID:      []string{"run-1", "run-2"}[i],
			Job:        scope.Job,
			Key:        scope.Key,
			Status:     status,
			Processed:  i + 1,
			StartedAt:  start.Add(time.Duration(i) * time.Hour),
			FinishedAt: start.Add(time.Duration(i)*time.Hour + time.Minute),
		}
		if err := db.SaveRun(ctx, s); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	runs, err := db.Runs(ctx, scope, 0)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-2" || runs[0].Status != model.StatusCompleted {
		t.Errorf("unexpected runs %+v", runs)
	}

	latest, _ := db.Runs(ctx, scope, 1)
	if len(latest) != 1 {
		t.Errorf("expected limit to apply, got %d", len(latest))
	}

	if err := db.SaveRun(ctx, &model.RunSummary{}); !errors.Is(err, ErrNoRunID) {
		t.Errorf("expected ErrNoRunID, got %v", err)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t)
	scope := Scope{Job: "suggest", Key: "cat"}

	p, _ := db.Progress(ctx, scope)
	_ = p.Add(ctx, "cat a", nil)
	_ = p.Flush(ctx)
	r, _ := db.Results(ctx, scope)
	_, _ = r.Append(ctx, model.ResultRecord{Value: "cat apple"})
	_ = r.Flush(ctx)

	if err := db.Reset(ctx, scope); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	p, _ = db.Progress(ctx, scope)
	records, _ := db.Records(ctx, scope)
	if p.Len() != 0 || len(records) != 0 {
		t.Errorf("expected empty scope after reset, progress=%d results=%d", p.Len(), len(records))
	}
}
