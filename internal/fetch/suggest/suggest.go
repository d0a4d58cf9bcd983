// Package suggest fetches search-engine autocomplete suggestions.
//
// The endpoint is the JSON autocomplete API search engines expose to browser
// address bars. It answers a query with ["query", ["suggestion", ...], ...].
package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/nao1215/harvester/internal/fetch"
	"github.com/nao1215/harvester/internal/model"
)

// DefaultEndpoint is the Google autocomplete endpoint.
const DefaultEndpoint = "https://suggestqueries.google.com/complete/search"

// Options configures sessions created by NewFactory.
type Options struct {
	// Endpoint is the autocomplete URL. Empty means DefaultEndpoint.
	Endpoint string

	// Client is the value of the client query parameter. Empty means "firefox",
	// which selects the plain JSON answer.
	Client string

	// Language is the interface language (hl parameter), such as "en".
	Language string

	// HTTP configures the underlying client.
	HTTP fetch.ClientOptions
}

// Session fetches suggestions over HTTP.
type Session struct {
	http     *resty.Client
	endpoint string
	client   string
	language string
}

var _ fetch.Session = (*Session)(nil)

// NewSession creates a Session.
func NewSession(opts Options) (*Session, error) {
	httpOpts := opts.HTTP
	httpOpts.Browserlike = true
	client, err := fetch.NewClient(httpOpts)
	if err != nil {
		return nil, err
	}

	s := &Session{
		http:     client,
		endpoint: opts.Endpoint,
		client:   opts.Client,
		language: opts.Language,
	}
	if s.endpoint == "" {
		s.endpoint = DefaultEndpoint
	}
	if s.client == "" {
		s.client = "firefox"
	}
	return s, nil
}

// NewFactory returns a SessionFactory creating Sessions from opts.
func NewFactory(opts Options) fetch.SessionFactory {
	return func(_ context.Context) (fetch.Session, error) {
		return NewSession(opts)
	}
}

// Fetch implements fetch.Session. The query is the item ID.
func (s *Session) Fetch(ctx context.Context, item model.WorkItem) ([]string, error) {
	req := s.http.R().
		SetContext(ctx).
		SetQueryParam("client", s.client).
		SetQueryParam("q", item.ID)
	if s.language != "" {
		req.SetQueryParam("hl", s.language)
	}

	resp, err := req.Get(s.endpoint)
	if err := fetch.CheckResponse(resp, err); err != nil {
		return nil, err
	}
	return Parse(resp.Body())
}

// SupportsIncrementalEdit implements fetch.Session. Every HTTP query is
// independent, so there is no input state to reuse.
func (s *Session) SupportsIncrementalEdit() bool {
	return false
}

// Close implements fetch.Session.
func (s *Session) Close() error {
	s.http.GetClient().CloseIdleConnections()
	return nil
}

// ErrMalformed is returned for answers that are not autocomplete JSON.
var ErrMalformed = errors.New("malformed autocomplete answer")

// Parse decodes an autocomplete answer. Suggestions are trimmed and blank
// ones dropped. A body that is not an autocomplete answer is classified as
// fetch.KindElementNotFound.
func Parse(body []byte) ([]string, error) {
	var answer []json.RawMessage
	if err := json.Unmarshal(body, &answer); err != nil {
		return nil, fetch.NotFound(fmt.Errorf("%w: %w", ErrMalformed, err))
	}
	if len(answer) < 2 {
		return nil, fetch.NotFound(fmt.Errorf("%w: %d elements", ErrMalformed, len(answer)))
	}

	var raw []string
	if err := json.Unmarshal(answer[1], &raw); err != nil {
		return nil, fetch.NotFound(fmt.Errorf("%w: %w", ErrMalformed, err))
	}

	suggestions := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			suggestions = append(suggestions, s)
		}
	}
	return suggestions, nil
}
