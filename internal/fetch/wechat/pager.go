package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"

	"github.com/nao1215/harvester/internal/fetch"
	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/queue"
)

const listPath = "/cgi-bin/appmsgpublish"

var publishPagePattern = regexp.MustCompile(`(?s)publish_page\s*=\s*(\{.*?\});`)

// Pager lists published articles. It implements queue.Pager.
type Pager struct {
	http           *resty.Client
	token          string
	pageSize       int
	baseURL        string
	includeReposts bool
	now            func() time.Time
	logger         *slog.Logger
}

var _ queue.Pager = (*Pager)(nil)

// PagerOption configures a Pager.
type PagerOption func(*Pager)

// WithClock sets the clock used when an article has no publish time.
func WithClock(now func() time.Time) PagerOption {
	return func(p *Pager) {
		p.now = now
	}
}

// WithPagerLogger sets the logger.
func WithPagerLogger(logger *slog.Logger) PagerOption {
	return func(p *Pager) {
		p.logger = logger
	}
}

// NewPager creates a Pager.
func NewPager(opts Options, pagerOpts ...PagerOption) (*Pager, error) {
	if strings.TrimSpace(opts.Token) == "" || strings.TrimSpace(opts.Cookie) == "" {
		return nil, ErrMissingCredentials
	}
	client, err := fetch.NewClient(opts.clientOptions())
	if err != nil {
		return nil, err
	}

	p := &Pager{
		http:           client,
		token:          opts.Token,
		pageSize:       opts.PageSize,
		baseURL:        opts.baseURL(),
		includeReposts: opts.IncludeReposts,
		now:            time.Now,
		logger:         slog.Default(),
	}
	if p.pageSize <= 0 {
		p.pageSize = DefaultPageSize
	}
	for _, opt := range pagerOpts {
		opt(p)
	}
	return p, nil
}

// Page implements queue.Pager. The cursor is the begin index of the page.
func (p *Pager) Page(ctx context.Context, cursor int) (queue.Page, error) {
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"sub":   "list",
			"begin": strconv.Itoa(cursor),
			"count": strconv.Itoa(p.pageSize),
			"token": p.token,
			"lang":  "zh_CN",
		}).
		Get(listPath)
	if err := fetch.CheckResponse(resp, err); err != nil {
		if fetch.KindOf(err) == fetch.KindSessionInvalid {
			return queue.Page{}, fmt.Errorf("%w: %w", ErrLoginExpired, err)
		}
		return queue.Page{}, fmt.Errorf("failed to fetch listing page at %d: %w", cursor, err)
	}

	body := resp.String()
	if loginRequired(body) {
		return queue.Page{}, ErrLoginExpired
	}

	listing, err := ParseListing(body)
	if err != nil {
		return queue.Page{}, fmt.Errorf("listing page at %d: %w", cursor, err)
	}

	page := queue.Page{
		Size: listing.Entries,
		Next: cursor + p.pageSize,
		Last: listing.Entries == 0,
	}
	for _, a := range listing.Articles {
		if !a.Original && !p.includeReposts {
			p.logger.Debug("skipping repost", "title", a.Title)
			continue
		}
		published := a.PublishTime
		if published <= 0 {
			published = p.now().Unix()
			p.logger.Warn("no publish time found, using current time", "title", a.Title)
		}
		item := model.NewWorkItem(p.absolute(a.URL)).
			WithMeta(model.MetaTitle, a.Title).
			WithMeta(model.MetaPublishTime, strconv.FormatInt(published, 10))
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func (p *Pager) absolute(link string) string {
	if strings.HasPrefix(link, "http") {
		return link
	}
	if !strings.HasPrefix(link, "/") {
		link = "/" + link
	}
	return p.baseURL + link
}

// Article is one article of a listing page.
type Article struct {
	Title       string
	URL         string
	Original    bool
	PublishTime int64
}

// Listing is the parsed content of a listing page.
type Listing struct {
	// Entries is the number of publish entries on the page. One entry can
	// hold several articles.
	Entries int

	// Total is the total number of publish entries of the account.
	Total int

	// Articles are the articles with a title and URL, in page order.
	Articles []Article
}

type publishPage struct {
	TotalCount  int `json:"total_count"`
	PublishList []struct {
		PublishInfo string `json:"publish_info"`
	} `json:"publish_list"`
}

type publishInfo struct {
	AppmsgInfo  []appmsgInfo `json:"appmsg_info"`
	PublishTime unixTime     `json:"publish_time"`
	CreateTime  unixTime     `json:"create_time"`
	UpdateTime  unixTime     `json:"update_time"`
	SentInfo    struct {
		Time unixTime `json:"time"`
	} `json:"sent_info"`
}

type appmsgInfo struct {
	Title         string   `json:"title"`
	ContentURL    string   `json:"content_url"`
	CopyrightType unixTime `json:"copyright_type"`
	PublishTime   unixTime `json:"publish_time"`
	CreateTime    unixTime `json:"create_time"`
	UpdateTime    unixTime `json:"update_time"`
}

// unixTime decodes a JSON number or numeric string. Anything else decodes
// to zero.
type unixTime int64

func (t *unixTime) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		*t = 0
		return nil
	}
	*t = unixTime(v)
	return nil
}

// ParseListing extracts the articles of a listing page. Entries whose
// publish_info cannot be decoded are skipped.
func ParseListing(body string) (Listing, error) {
	m := publishPagePattern.FindStringSubmatch(body)
	if m == nil {
		return Listing{}, ErrNoPublishPage
	}

	var page publishPage
	if err := json.Unmarshal([]byte(m[1]), &page); err != nil {
		return Listing{}, fmt.Errorf("%w: %w", ErrNoPublishPage, err)
	}

	listing := Listing{Entries: len(page.PublishList), Total: page.TotalCount}
	for _, entry := range page.PublishList {
		if entry.PublishInfo == "" {
			continue
		}
		var info publishInfo
		if err := json.Unmarshal([]byte(html.UnescapeString(entry.PublishInfo)), &info); err != nil {
			continue
		}
		for _, msg := range info.AppmsgInfo {
			if msg.Title == "" || msg.ContentURL == "" {
				continue
			}
			listing.Articles = append(listing.Articles, Article{
				Title:    strings.TrimSpace(msg.Title),
				URL:      msg.ContentURL,
				Original: msg.CopyrightType == 1,
				PublishTime: firstPositive(
					msg.PublishTime, msg.CreateTime, msg.UpdateTime,
					info.PublishTime, info.CreateTime, info.UpdateTime,
					info.SentInfo.Time,
				),
			})
		}
	}
	return listing, nil
}

func firstPositive(values ...unixTime) int64 {
	for _, v := range values {
		if v > 0 {
			return int64(v)
		}
	}
	return 0
}
