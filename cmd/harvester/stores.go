package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nao1215/harvester/internal/config"
	"github.com/nao1215/harvester/internal/database"
	"github.com/nao1215/harvester/internal/dedup"
	"github.com/nao1215/harvester/internal/store"
)

// defaultAccountKey is the run key of the articles job when no token is known.
const defaultAccountKey = "default"

// suggestKey returns the run key of a root term: the sanitized root with
// spaces replaced by underscores.
func suggestKey(root string) string {
	return strings.ReplaceAll(store.SanitizeFilename(root), " ", "_")
}

// translateKey returns the run key of a word list translated from one
// language to another.
func translateKey(input, from, to string) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return fmt.Sprintf("%s_%s_to_%s", store.SanitizeFilename(stem), from, to)
}

// articlesKey returns the run key of an account. The token identifies the
// account without being written to disk.
func articlesKey(token string) string {
	if token == "" {
		return defaultAccountKey
	}
	return "account_" + dedup.Key(token)[:12]
}

// progressPath returns the file progress store of key.
func progressPath(cfg *config.Config, key string) string {
	return filepath.Join(cfg.JobStateDir(), key+"_progress.json")
}

// statePath returns the listing cursor file of key.
func statePath(cfg *config.Config, key string) string {
	return filepath.Join(cfg.JobStateDir(), key+"_exporter_state.json")
}

// resultPath returns the result file of key for the line and pair sinks.
func resultPath(cfg *config.Config, key string) string {
	if cfg.Job == config.JobTranslate {
		return filepath.Join(cfg.OutDir, "translated_"+key+".csv")
	}
	return filepath.Join(cfg.OutDir, key+".txt")
}

// stores holds the storage of one run.
type stores struct {
	progress store.ProgressStore
	sink     store.ResultSink

	// state is the listing cursor; nil for jobs without a listing.
	state store.StateStore

	// done lists sinks that double as a progress record.
	done []store.Completed
}

// openStores opens the progress store, result sink and listing state of key
// on the configured backend. With Reset set, the stored progress and cursor
// of key are discarded first.
func openStores(ctx context.Context, a *app, key string) (*stores, error) {
	cfg := a.cfg
	if cfg.Backend == config.BackendSQLite {
		return openDatabaseStores(ctx, a, key)
	}

	progress, err := store.OpenProgress(progressPath(cfg, key))
	if err != nil {
		return nil, err
	}
	s := &stores{progress: progress}
	if cfg.Job == config.JobArticles {
		s.state = store.NewStateFile(statePath(cfg, key))
	}

	if cfg.Reset {
		if err := progress.Reset(); err != nil {
			return nil, err
		}
		if s.state != nil {
			if err := s.state.ClearState(ctx); err != nil {
				return nil, err
			}
		}
		a.logger.Info("progress reset", "job", cfg.Job, "key", key)
	}

	switch cfg.Job {
	case config.JobSuggest:
		s.sink, err = store.OpenLineSink(resultPath(cfg, key))
	case config.JobTranslate:
		var pairs *store.PairSink
		pairs, err = store.OpenPairSink(resultPath(cfg, key))
		if err == nil {
			s.sink = pairs
			s.done = append(s.done, pairs)
		}
	case config.JobArticles:
		s.sink, err = store.OpenDocumentSink(cfg.OutDir)
	default:
		err = config.ErrUnknownJob
	}
	if err != nil {
		_ = progress.Close()
		return nil, err
	}
	return s, nil
}

func openDatabaseStores(ctx context.Context, a *app, key string) (*stores, error) {
	cfg := a.cfg
	scope := database.Scope{Job: cfg.Job, Key: key}

	if cfg.Reset {
		if err := a.db.Reset(ctx, scope); err != nil {
			return nil, fmt.Errorf("failed to reset progress: %w", err)
		}
		a.logger.Info("progress reset", "job", cfg.Job, "key", key)
	}

	progress, err := a.db.Progress(ctx, scope)
	if err != nil {
		return nil, err
	}
	s := &stores{progress: progress}

	// Articles stay Markdown files; their progress and cursor move to SQLite.
	if cfg.Job == config.JobArticles {
		s.state = a.db.State(scope)
		s.sink, err = store.OpenDocumentSink(cfg.OutDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	results, err := a.db.Results(ctx, scope)
	if err != nil {
		return nil, err
	}
	s.sink = results
	if cfg.Job == config.JobTranslate {
		s.done = append(s.done, results)
	}
	return s, nil
}

// Close closes the sink and the progress store.
func (s *stores) Close() error {
	return errors.Join(s.sink.Close(), s.progress.Close())
}
