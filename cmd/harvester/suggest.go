package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/nao1215/harvester/internal/config"
	"github.com/nao1215/harvester/internal/fetch/suggest"
	"github.com/nao1215/harvester/internal/queue"
	"github.com/nao1215/harvester/internal/relevance"
	"github.com/nao1215/harvester/internal/runner"
)

// fetchModeHTTP is the only fetch mode: the autocomplete endpoint answers
// plain JSON, so no browser is involved.
const fetchModeHTTP = "http"

// errUnsupportedFetchMode is returned for a --mode other than http.
var errUnsupportedFetchMode = errors.New("unsupported fetch mode: only http is available")

// NewSuggestCmd creates the suggest command.
func NewSuggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest <root>",
		Short: "Harvest search autocomplete suggestions for a root term",
		Long: `Suggest expands a root term into two-letter completions ("cat aa" to
"cat z9"), asks the autocomplete endpoint for each of them and appends every
new relevant suggestion to <out>/<root>.txt.

Suggestions are kept only when they contain the root, or for a multi-word
root any of its words ignoring case. After three completions of one
family ("cat a") answer nothing relevant, the rest of that family is skipped.

Examples:
  # Harvest suggestions for "cat"
  harvester suggest cat

  # Use four workers and write to ./out
  harvester suggest "cat food" -w 4 -o out

  # Start over, ignoring the stored progress
  harvester suggest cat --reset`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSuggestCmd,
	}

	defaults := config.NewConfig(config.JobSuggest)
	addRunFlags(cmd, defaults)
	cmd.Flags().String("language", "", "Interface language of the autocomplete endpoint (e.g., en)")
	cmd.Flags().String("endpoint", "", "Autocomplete endpoint URL (default: "+suggest.DefaultEndpoint+")")
	cmd.Flags().Int("family-skip-after", defaults.FamilySkipAfter,
		"Skip the rest of a family after this many empty completions (0 disables)")
	cmd.Flags().String("mode", fetchModeHTTP, "Fetch mode (only http is available)")

	return cmd
}

// suggestBindings maps the suggest flags to Config fields.
func suggestBindings(cfg *config.Config) map[string]any {
	return map[string]any{
		"language":          &cfg.Language,
		"endpoint":          &cfg.SuggestEndpoint,
		"family-skip-after": &cfg.FamilySkipAfter,
	}
}

// runSuggestCmd executes the suggest command.
func runSuggestCmd(cmd *cobra.Command, args []string) error {
	mode, err := cmd.Flags().GetString("mode")
	if err != nil {
		return err
	}
	if mode != fetchModeHTTP {
		return fmt.Errorf("%w: %q", errUnsupportedFetchMode, mode)
	}

	cfg, err := loadConfig(cmd, config.JobSuggest, runBindings, suggestBindings)
	if err != nil {
		return err
	}
	cfg.Root = strings.Join(strings.Fields(strings.Join(args, " ")), " ")

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return runSuggest(ctx, a)
}

// runSuggest harvests the completions of cfg.Root.
func runSuggest(ctx context.Context, a *app) error {
	cfg := a.cfg
	key := suggestKey(cfg.Root)

	items, err := queue.Alphabet{Root: cfg.Root}.Generate()
	if err != nil {
		return err
	}

	var filterOpts []relevance.Option
	if cfg.Language != "" {
		tag, err := language.Parse(cfg.Language)
		if err != nil {
			return fmt.Errorf("invalid language %q: %w", cfg.Language, err)
		}
		filterOpts = append(filterOpts, relevance.WithLanguage(tag))
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

	factory := suggest.NewFactory(suggest.Options{
		Endpoint: cfg.SuggestEndpoint,
		Language: cfg.Language,
		HTTP:     a.httpOptions(),
	})
	opts := append(a.controllerOptions(key),
		runner.WithFilter(relevance.NewSeedFilter(cfg.Root, filterOpts...)),
		runner.WithFamilySkipAfter(cfg.FamilySkipAfter),
	)

	sum, err := runner.New(factory, s.progress, s.sink, opts...).Run(ctx, items)
	return a.finish(ctx, sum, err)
}
