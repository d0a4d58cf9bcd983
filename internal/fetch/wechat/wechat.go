// Package wechat exports the articles of a public account from the account
// admin backend.
//
// The Pager walks the publish history listing (a paged HTML page embedding a
// publish_page JSON object) and yields one WorkItem per article, keyed by
// the article URL with its title and publish time attached as metadata. The
// Session fetches an article page and converts its content area to Markdown.
package wechat

import (
	"errors"
	"strings"
	"time"

	"github.com/nao1215/harvester/internal/fetch"
	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/store"
)

// Backend defaults.
const (
	// DefaultBaseURL is the admin backend and article host.
	DefaultBaseURL = "https://mp.weixin.qq.com"

	// DefaultPageSize is the number of publish entries requested per page.
	DefaultPageSize = 20

	// DateLayout formats the publish time written to the front matter.
	DateLayout = "2006-01-02 15:04:05"
)

var (
	// ErrMissingCredentials is returned when the token or cookie is empty.
	ErrMissingCredentials = errors.New("token and cookie are required")

	// ErrLoginExpired is returned when the backend answers with its login page.
	ErrLoginExpired = errors.New("login expired: copy a fresh cookie and token from the browser")

	// ErrNoPublishPage is returned when a listing page has no publish_page data.
	ErrNoPublishPage = errors.New("publish_page data not found in listing page")
)

// loginMarkers appear on the page served instead of the requested one when
// the cookie is no longer valid.
var loginMarkers = []string{"请重新登录", "用户登录"}

func loginRequired(body string) bool {
	for _, m := range loginMarkers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}

// Options configures the Pager and the content Session.
type Options struct {
	// BaseURL is the backend host. Empty means DefaultBaseURL.
	BaseURL string

	// Token is the admin session token from the backend URL.
	Token string

	// Cookie is the raw Cookie header of a logged-in browser session.
	Cookie string

	// PageSize is the listing page size. Zero means DefaultPageSize.
	PageSize int

	// IncludeReposts also lists articles not marked original.
	IncludeReposts bool

	// HTTP configures the underlying client.
	HTTP fetch.ClientOptions
}

func (o Options) baseURL() string {
	if o.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(o.BaseURL, "/")
}

func (o Options) clientOptions() fetch.ClientOptions {
	c := o.HTTP
	c.BaseURL = o.baseURL()
	c.Cookie = o.Cookie
	headers := make(map[string]string, len(c.Headers)+1)
	for k, v := range c.Headers {
		headers[k] = v
	}
	headers["Referer"] = o.baseURL() + "/"
	c.Headers = headers
	return c
}

// Record builds the document record of an article from its Markdown body.
func Record(item model.WorkItem, body string) model.ResultRecord {
	extra := map[string]string{store.ExtraURL: item.ID}
	if t := item.PublishTime(); t > 0 {
		extra[store.ExtraDate] = time.Unix(t, 0).Format(DateLayout)
	}
	return model.ResultRecord{
		Value: item.Title(),
		Body:  body,
		Item:  item.ID,
		Extra: extra,
	}
}
