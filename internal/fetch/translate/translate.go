// Package translate fetches translations from a LibreTranslate compatible API.
//
// Words are sent in batches: one request carries up to the batch size of
// words and the answer is split back per word. When a batch request fails or
// answers with the wrong number of translations, the words are translated one
// by one and a word that still fails is recorded as "ERROR: <message>".
package translate

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/nao1215/harvester/internal/fetch"
	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/store"
)

// DefaultEndpoint is the local LibreTranslate server.
const DefaultEndpoint = "http://127.0.0.1:5000"

// ErrorPrefix starts the translation recorded for a word that failed.
const ErrorPrefix = "ERROR: "

// ErrCountMismatch is returned when a batch answer does not have one
// translation per word.
var ErrCountMismatch = errors.New("translation count does not match word count")

// Options configures sessions.
type Options struct {
	// Endpoint is the server base URL. Empty means DefaultEndpoint.
	Endpoint string

	// From is the source language code.
	From string

	// To is the target language code.
	To string

	// APIKey is sent when the server requires one.
	APIKey string

	// HTTP configures the underlying client.
	HTTP fetch.ClientOptions
}

// Session translates words. It implements fetch.BatchSession.
type Session struct {
	http   *resty.Client
	from   string
	to     string
	apiKey string
}

var _ fetch.BatchSession = (*Session)(nil)

// NewSession creates a Session.
func NewSession(opts Options) (*Session, error) {
	httpOpts := opts.HTTP
	httpOpts.BaseURL = opts.Endpoint
	if httpOpts.BaseURL == "" {
		httpOpts.BaseURL = DefaultEndpoint
	}
	headers := maps.Clone(httpOpts.Headers)
	if headers == nil {
		headers = make(map[string]string, 1)
	}
	headers["Accept"] = "application/json"
	httpOpts.Headers = headers

	client, err := fetch.NewClient(httpOpts)
	if err != nil {
		return nil, err
	}
	return &Session{http: client, from: opts.From, to: opts.To, apiKey: opts.APIKey}, nil
}

// NewFactory returns a SessionFactory creating Sessions from opts.
func NewFactory(opts Options) fetch.SessionFactory {
	return func(_ context.Context) (fetch.Session, error) {
		return NewSession(opts)
	}
}

type request struct {
	Q      any    `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type singleAnswer struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

type batchAnswer struct {
	TranslatedText []string `json:"translatedText"`
	Error          string   `json:"error"`
}

func (s *Session) post(ctx context.Context, q any, answer any) error {
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(request{Q: q, Source: s.from, Target: s.to, Format: "text", APIKey: s.apiKey}).
		SetResult(answer).
		Post("/translate")
	return fetch.CheckResponse(resp, err)
}

// Fetch implements fetch.Session. The word is the item ID.
func (s *Session) Fetch(ctx context.Context, item model.WorkItem) ([]string, error) {
	var answer singleAnswer
	if err := s.post(ctx, item.ID, &answer); err != nil {
		return nil, err
	}
	if answer.Error != "" {
		return nil, fetch.Unknown(errors.New(answer.Error))
	}
	text := strings.TrimSpace(answer.TranslatedText)
	if text == "" {
		return nil, fetch.NotFound(fmt.Errorf("empty translation of %q", item.ID))
	}
	return []string{text}, nil
}

// FetchBatch implements fetch.BatchSession.
func (s *Session) FetchBatch(ctx context.Context, items []model.WorkItem) ([][]string, error) {
	if len(items) == 0 {
		return nil, nil
	}

	results, err := s.batch(ctx, items)
	if err == nil {
		return results, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if fetch.KindOf(err) == fetch.KindSessionInvalid {
		return nil, err
	}
	return s.oneByOne(ctx, items)
}

func (s *Session) batch(ctx context.Context, items []model.WorkItem) ([][]string, error) {
	var answer batchAnswer
	if err := s.post(ctx, model.IDs(items), &answer); err != nil {
		return nil, err
	}
	if answer.Error != "" {
		return nil, fetch.Unknown(errors.New(answer.Error))
	}
	if len(answer.TranslatedText) != len(items) {
		return nil, fetch.Unknown(fmt.Errorf("%w: %d words, %d translations", ErrCountMismatch, len(items), len(answer.TranslatedText)))
	}

	results := make([][]string, len(items))
	for i, text := range answer.TranslatedText {
		results[i] = []string{strings.TrimSpace(text)}
	}
	return results, nil
}

func (s *Session) oneByOne(ctx context.Context, items []model.WorkItem) ([][]string, error) {
	results := make([][]string, len(items))
	for i, item := range items {
		text, err := s.Fetch(ctx, item)
		switch {
		case err == nil:
			results[i] = text
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case fetch.KindOf(err) == fetch.KindSessionInvalid:
			return nil, err
		default:
			results[i] = []string{ErrorPrefix + err.Error()}
		}
	}
	return results, nil
}

// SupportsIncrementalEdit implements fetch.Session.
func (s *Session) SupportsIncrementalEdit() bool {
	return false
}

// Close implements fetch.Session.
func (s *Session) Close() error {
	s.http.GetClient().CloseIdleConnections()
	return nil
}

// Record builds the result record of a translated word. The record is keyed
// by the source word, so a sink holding it also records the word as done.
func Record(item model.WorkItem, translation string) model.ResultRecord {
	return model.ResultRecord{
		Key:   item.ID,
		Value: translation,
		Item:  item.ID,
		Extra: map[string]string{store.ExtraSource: item.ID},
	}
}

// BatchSize shrinks the configured batch size so that every worker gets at
// least two batches of the remaining words.
func BatchSize(configured, remaining, workers int) int {
	if workers < 1 {
		workers = 1
	}
	size := min(configured, remaining/(workers*2)+1)
	return max(1, size)
}
