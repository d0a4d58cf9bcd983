package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/harvester/internal/config"
	"github.com/nao1215/harvester/internal/database"
	"github.com/nao1215/harvester/internal/report"
	"github.com/nao1215/harvester/internal/store"
)

// NewInfoCmd creates the info command.
func NewInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <job> [key]",
		Short: "Show the stored progress of a run",
		Long: `Info shows what is stored for one run: the number of completed items,
the number of stored results, the saved listing cursor and the latest runs.

The key identifies the run within its job:
  suggest    the root with spaces replaced by underscores (cat_food)
  translate  <list>_<from>_to_<to> (words_en_to_zh)
  articles   derived from the token; omit it to use the configured token

Examples:
  harvester info suggest cat_food
  harvester info translate words_en_to_zh --report json
  harvester info articles`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runInfoCmd,
	}
	cmd.Flags().StringP("out", "o", "", "Output directory of the job (default: the job default)")
	return cmd
}

// runInfoCmd executes the info command.
func runInfoCmd(cmd *cobra.Command, args []string) error {
	job := args[0]
	cfg, err := loadConfig(cmd, job, func(cfg *config.Config) map[string]any {
		return map[string]any{"out": &cfg.OutDir}
	})
	if err != nil {
		return err
	}

	var key string
	switch {
	case len(args) == 2:
		key = args[1]
	case job == config.JobArticles:
		key = articlesKey(cfg.Token)
	default:
		return fmt.Errorf("a run key is required for %s", job)
	}

	// Info reads stored state only; the job inputs are not needed.
	cfg.Info = true

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return writeInfo(ctx, a, key)
}

// writeInfo reports the stored state of key in the configured format.
func writeInfo(ctx context.Context, a *app, key string) error {
	info, err := collectInfo(ctx, a, key)
	if err != nil {
		return err
	}
	w, err := report.New(a.cfg.ReportFormat, a.out)
	if err != nil {
		return err
	}
	_, err = w.WriteInfo(info)
	return err
}

// collectInfo reads the stored progress, results, cursor and history of key
// without modifying them.
func collectInfo(ctx context.Context, a *app, key string) (*report.Info, error) {
	cfg := a.cfg
	info := &report.Info{Job: cfg.Job, Key: key}
	scope := database.Scope{Job: cfg.Job, Key: key}

	var err error
	if cfg.Backend == config.BackendSQLite {
		err = collectDatabaseInfo(ctx, a, scope, info)
	} else {
		err = collectFileInfo(ctx, cfg, key, info)
	}
	if err != nil {
		return nil, err
	}

	runs, err := a.db.Runs(ctx, scope, historyLimit)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		info.Runs = append(info.Runs, *r)
	}
	return info, nil
}

func collectFileInfo(ctx context.Context, cfg *config.Config, key string, info *report.Info) error {
	progress, err := store.OpenProgress(progressPath(cfg, key))
	if err != nil {
		return err
	}
	info.Completed = progress.Len()

	switch cfg.Job {
	case config.JobSuggest:
		lines, err := store.OpenLineSink(resultPath(cfg, key))
		if err != nil {
			return err
		}
		info.Results = lines.Len()
	case config.JobTranslate:
		pairs, err := store.OpenPairSink(resultPath(cfg, key))
		if err != nil {
			return err
		}
		info.Results = pairs.Len()
	case config.JobArticles:
		docs, err := store.OpenDocumentSink(cfg.OutDir)
		if err != nil {
			return err
		}
		info.Results = docs.Len()
		info.State, err = store.NewStateFile(statePath(cfg, key)).LoadState(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

func collectDatabaseInfo(ctx context.Context, a *app, scope database.Scope, info *report.Info) error {
	progress, err := a.db.Progress(ctx, scope)
	if err != nil {
		return err
	}
	info.Completed = progress.Len()

	if scope.Job == config.JobArticles {
		docs, err := store.OpenDocumentSink(a.cfg.OutDir)
		if err != nil {
			return err
		}
		info.Results = docs.Len()
		info.State, err = a.db.State(scope).LoadState(ctx)
		return err
	}

	results, err := a.db.Results(ctx, scope)
	if err != nil {
		return err
	}
	info.Results = results.Len()
	return nil
}
