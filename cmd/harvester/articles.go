package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/harvester/internal/config"
	"github.com/nao1215/harvester/internal/fetch/wechat"
	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/queue"
	"github.com/nao1215/harvester/internal/runner"
	"github.com/nao1215/harvester/internal/store"
)

// NewArticlesCmd creates the articles command.
func NewArticlesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "articles",
		Short: "Export public-account articles as Markdown",
		Long: `Articles lists the published articles of a public account through its
admin backend and saves each one as <out>/<title>.md with YAML front matter.

The token is the token parameter of a logged-in backend URL and the cookie is
the Cookie header of that browser session. Both can also be given through
HARVESTER_TOKEN and HARVESTER_COOKIE or the config file.

In incremental mode the listing stops after a few consecutive articles that
were already exported; full mode walks the whole listing. An interrupted
listing resumes from its saved cursor. Only original articles are exported
unless --include-reposts is set, and an article whose file already exists is
skipped.

Examples:
  # Export new articles since the last run
  harvester articles --token 123456 --cookie "slave_sid=..."

  # Walk the whole listing, at most 100 articles
  harvester articles --mode full --limit 100

  # Show the saved cursor and progress
  harvester articles --info`,
		Args: cobra.NoArgs,
		RunE: runArticlesCmd,
	}

	defaults := config.NewConfig(config.JobArticles)
	addRunFlags(cmd, defaults)
	flags := cmd.Flags()
	flags.String("token", "", "Backend token (or HARVESTER_TOKEN)")
	flags.String("cookie", "", "Backend Cookie header (or HARVESTER_COOKIE)")
	flags.String("mode", defaults.Mode, "Listing mode: incremental or full")
	flags.IntP("limit", "l", 0, "Maximum number of articles to list (0 means all)")
	flags.Int("page-size", defaults.PageSize, "Publish entries per listing page")
	flags.Duration("page-delay", defaults.PageDelay, "Wait between listing pages")
	flags.Int("stop-after", defaults.IncrementalStopAfter,
		"In incremental mode, stop after this many consecutive exported articles")
	flags.Int("max-empty-pages", defaults.MaxEmptyPages, "Stop after this many pages without new articles")
	flags.Bool("keep-state", false, "Keep the listing cursor after a completed run")
	flags.Bool("include-reposts", false, "Also export articles not marked original")
	flags.Bool("info", false, "Show the stored progress instead of exporting")
	flags.String("base-url", wechat.DefaultBaseURL, "Backend base URL")
	_ = flags.MarkHidden("base-url")

	return cmd
}

// articlesBindings maps the articles flags to Config fields.
func articlesBindings(cfg *config.Config) map[string]any {
	return map[string]any{
		"token":           &cfg.Token,
		"cookie":          &cfg.Cookie,
		"mode":            &cfg.Mode,
		"limit":           &cfg.Limit,
		"page-size":       &cfg.PageSize,
		"page-delay":      &cfg.PageDelay,
		"stop-after":      &cfg.IncrementalStopAfter,
		"max-empty-pages": &cfg.MaxEmptyPages,
		"keep-state":      &cfg.KeepState,
		"include-reposts": &cfg.IncludeReposts,
		"info":            &cfg.Info,
	}
}

// runArticlesCmd executes the articles command.
func runArticlesCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, config.JobArticles, runBindings, articlesBindings)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Info {
		return writeInfo(ctx, a, articlesKey(cfg.Token))
	}
	baseURL, err := cmd.Flags().GetString("base-url")
	if err != nil {
		return err
	}
	return runArticles(ctx, a, baseURL)
}

// runArticles lists the articles of the account and exports the new ones.
func runArticles(ctx context.Context, a *app, baseURL string) error {
	cfg := a.cfg
	key := articlesKey(cfg.Token)

	mode, err := queue.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}

	s, err := openStores(ctx, a, key)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			a.logger.Error("failed to close stores", "error", err)
		}
	}()

	opts := wechat.Options{
		BaseURL:        baseURL,
		Token:          cfg.Token,
		Cookie:         cfg.Cookie,
		PageSize:       cfg.PageSize,
		IncludeReposts: cfg.IncludeReposts,
		HTTP:           a.httpOptions(),
	}
	pager, err := wechat.NewPager(opts, wechat.WithPagerLogger(a.logger))
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	collector := queue.NewCollector(pager, s.progress, s.state,
		queue.WithMode(mode),
		queue.WithLimit(cfg.Limit),
		queue.WithIncrementalStopAfter(cfg.IncrementalStopAfter),
		queue.WithMaxEmptyPages(cfg.MaxEmptyPages),
		queue.WithPageDelay(cfg.PageDelay),
		queue.WithCollectorLogger(a.logger),
	)
	items, err := collector.Collect(ctx)
	switch {
	case err == nil:
	case errors.Is(err, wechat.ErrLoginExpired):
		return fmt.Errorf("configuration error: %w", err)
	case interrupted(err):
		a.logger.Info("listing interrupted, the cursor is saved", "collected", len(items))
		return nil
	default:
		a.logger.Warn("listing stopped early, exporting the collected articles",
			"collected", len(items), "error", err)
	}

	items, err = skipExisting(ctx, a, s, items)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		a.logger.Info("no new articles")
	}

	ctrlOpts := append(a.controllerOptions(key),
		runner.WithRecorder(wechat.Record),
		runner.WithState(s.state, cfg.KeepState),
		runner.WithFamilySkipAfter(0),
	)
	sum, err := runner.New(wechat.NewFactory(opts), s.progress, s.sink, ctrlOpts...).Run(ctx, items)
	return a.finish(ctx, sum, err)
}

// skipExisting marks the articles whose Markdown file already exists as done
// and returns the others.
func skipExisting(ctx context.Context, a *app, s *stores, items []model.WorkItem) ([]model.WorkItem, error) {
	docs, ok := s.sink.(*store.DocumentSink)
	if !ok {
		return items, nil
	}

	pending := make([]model.WorkItem, 0, len(items))
	skipped := 0
	for _, item := range items {
		if !docs.HasTitle(item.Title()) {
			pending = append(pending, item)
			continue
		}
		a.logger.Info("article file exists, skipping", "title", item.Title())
		if err := s.progress.Add(ctx, item.ID, item.Meta); err != nil {
			return nil, err
		}
		skipped++
	}

	if skipped > 0 {
		err := s.progress.Flush(ctx)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrBackupWritten):
			a.logger.Error("progress written to backup path", "error", err)
		case errors.Is(err, store.ErrStaleBackup):
			a.logger.Warn("progress backup left behind", "error", err)
		default:
			return nil, fmt.Errorf("failed to persist progress: %w", err)
		}
	}
	return pending, nil
}
