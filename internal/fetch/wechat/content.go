package wechat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/nao1215/harvester/internal/fetch"
	"github.com/nao1215/harvester/internal/model"
)

// contentSelectors locate the article body, in order of preference.
var contentSelectors = []string{"div#js_content", "div.rich_media_content"}

// ErrNoContent is returned when an article page has no content area.
var ErrNoContent = errors.New("article content area not found")

// Session fetches article pages. It implements fetch.Session.
// Fetch returns a single string: the article body as Markdown.
type Session struct {
	http      *resty.Client
	converter *md.Converter
}

var _ fetch.Session = (*Session)(nil)

// NewSession creates a Session.
func NewSession(opts Options) (*Session, error) {
	client, err := fetch.NewClient(opts.clientOptions())
	if err != nil {
		return nil, err
	}
	return &Session{http: client, converter: NewConverter(opts.baseURL())}, nil
}

// NewFactory returns a SessionFactory creating Sessions from opts.
func NewFactory(opts Options) fetch.SessionFactory {
	return func(_ context.Context) (fetch.Session, error) {
		return NewSession(opts)
	}
}

// NewConverter returns the HTML to Markdown converter used for article
// bodies. Images are dropped, links are kept and relative links are
// completed with domain.
func NewConverter(domain string) *md.Converter {
	conv := md.NewConverter(domain, true, nil)
	conv.Remove("img", "script", "style")
	return conv
}

// Fetch implements fetch.Session. The item ID is the article URL.
func (s *Session) Fetch(ctx context.Context, item model.WorkItem) ([]string, error) {
	resp, err := s.http.R().SetContext(ctx).Get(item.ID)
	if err := fetch.CheckResponse(resp, err); err != nil {
		return nil, err
	}

	body := resp.String()
	if loginRequired(body) {
		return nil, fetch.SessionInvalid(ErrLoginExpired)
	}

	text, err := Extract(s.converter, body)
	if err != nil {
		return nil, err
	}
	return []string{text}, nil
}

// Extract converts the content area of an article page to Markdown.
// A page without a content area is a fetch.KindElementNotFound error.
func Extract(conv *md.Converter, page string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fetch.Unknown(fmt.Errorf("failed to parse article page: %w", err))
	}

	for _, sel := range contentSelectors {
		content := doc.Find(sel).First()
		if content.Length() == 0 {
			continue
		}
		return strings.TrimSpace(conv.Convert(content)), nil
	}
	return "", fetch.NotFound(ErrNoContent)
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
