package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nao1215/harvester/internal/config"
	"github.com/nao1215/harvester/internal/fetch/translate"
	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/queue"
	"github.com/nao1215/harvester/internal/runner"
	"github.com/nao1215/harvester/internal/store"
)

// NewTranslateCmd creates the translate command.
func NewTranslateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "translate <word-list>",
		Short: "Translate a word list through a LibreTranslate compatible API",
		Long: `Translate reads one word per line and writes the translations to
<out>/translated_<list>_<from>_to_<to>.csv with the columns source and
translation.

Words already present in the CSV are not translated again, so the CSV itself
records the progress of the list. Words are sent in batches; when a batch
fails the words of that batch are retried one by one, and a word that still
fails is recorded as "ERROR: <message>".

Examples:
  # Translate words.txt from English to Chinese
  harvester translate words.txt

  # Translate to Japanese with a local server
  harvester translate words.txt --to ja --endpoint http://127.0.0.1:5000

  # Larger batches and more workers
  harvester translate words.txt --batch-size 50 -w 8`,
		Args: cobra.ExactArgs(1),
		RunE: runTranslateCmd,
	}

	defaults := config.NewConfig(config.JobTranslate)
	addRunFlags(cmd, defaults)
	cmd.Flags().String("from", defaults.From, "Source language code")
	cmd.Flags().String("to", defaults.To, "Target language code")
	cmd.Flags().IntP("batch-size", "b", defaults.BatchSize, "Maximum number of words per request")
	cmd.Flags().String("endpoint", "", "Translation server URL (default: "+translate.DefaultEndpoint+")")
	cmd.Flags().String("api-key", "", "API key of the translation server (or HARVESTER_API_KEY)")

	return cmd
}

// translateBindings maps the translate flags to Config fields.
func translateBindings(cfg *config.Config) map[string]any {
	return map[string]any{
		"from":       &cfg.From,
		"to":         &cfg.To,
		"batch-size": &cfg.BatchSize,
		"endpoint":   &cfg.TranslateEndpoint,
		"api-key":    &cfg.APIKey,
	}
}

// runTranslateCmd executes the translate command.
func runTranslateCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, config.JobTranslate, runBindings, translateBindings)
	if err != nil {
		return err
	}
	cfg.Input = args[0]

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return runTranslate(ctx, a)
}

// runTranslate translates the words of cfg.Input.
func runTranslate(ctx context.Context, a *app) error {
	cfg := a.cfg
	key := translateKey(cfg.Input, cfg.From, cfg.To)

	items, err := queue.Lines{Path: cfg.Input}.Generate()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		a.logger.Warn("word list is empty", "input", cfg.Input)
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

	pending, _ := queue.Pending(items, append([]store.Completed{s.progress}, s.done...)...)
	batch := translate.BatchSize(cfg.BatchSize, len(pending), cfg.Workers)
	a.logger.Info("translating", "words", len(items), "pending", len(pending), "batch_size", batch)

	factory := translate.NewFactory(translate.Options{
		Endpoint: cfg.TranslateEndpoint,
		From:     cfg.From,
		To:       cfg.To,
		APIKey:   cfg.APIKey,
		HTTP:     a.httpOptions(),
	})
	opts := append(a.controllerOptions(key),
		runner.WithCompleted(s.done...),
		runner.WithBatchSize(batch),
		runner.WithRecorder(translate.Record),
	)

	sum, runErr := runner.New(factory, s.progress, s.sink, opts...).Run(ctx, items)

	// Workers finish out of order; the CSV follows the word list.
	if pairs, ok := s.sink.(*store.PairSink); ok {
		pairs.Reorder(model.IDs(items))
		if err := pairs.Flush(context.WithoutCancel(ctx)); err != nil {
			a.logger.Error("failed to rewrite translations in input order", "path", pairs.Path(), "error", err)
		}
	}
	if sum != nil {
		a.logger.Info("translation finished",
			"translated", sum.Processed,
			"words_per_second", sum.ItemsPerSecond(),
		)
	}
	return a.finish(ctx, sum, runErr)
}
