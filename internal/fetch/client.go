package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/proxy"
)

// Client defaults.
const (
	DefaultTimeout   = 20 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

// ErrUnsupportedProxy is returned for proxy URLs other than socks5://.
var ErrUnsupportedProxy = errors.New("unsupported proxy scheme: only socks5 is supported")

// ClientOptions configures NewClient.
type ClientOptions struct {
	// BaseURL is prepended to relative request URLs.
	BaseURL string

	// Timeout bounds every request. Zero means DefaultTimeout.
	Timeout time.Duration

	// UserAgent is sent with every request. Empty means DefaultUserAgent.
	UserAgent string

	// Proxy is a socks5://host:port URL. Empty means a direct connection.
	Proxy string

	// Cookie is a raw Cookie header sent with every request.
	Cookie string

	// Headers are sent with every request.
	Headers map[string]string

	// Browserlike presents a browser TLS fingerprint and header set.
	Browserlike bool
}

// NewClient creates the resty client shared by the fetchers.
func NewClient(opts ClientOptions) (*resty.Client, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	if opts.Proxy != "" {
		dial, err := socksDialer(opts.Proxy)
		if err != nil {
			return nil, err
		}
		transport.Proxy = nil
		transport.DialContext = dial
	}

	var rt http.RoundTripper = transport
	if opts.Browserlike {
		rt = cloudflarebp.AddCloudFlareByPass(transport)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	client := resty.New().
		SetTransport(rt).
		SetCookieJar(jar).
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetHeader("User-Agent", userAgent)
	if opts.BaseURL != "" {
		client.SetBaseURL(opts.BaseURL)
	}
	if opts.Cookie != "" {
		client.SetHeader("Cookie", opts.Cookie)
	}
	for k, v := range opts.Headers {
		client.SetHeader(k, v)
	}
	return client, nil
}

type dialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func socksDialer(rawURL string) (dialContextFunc, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProxy, u.Scheme)
	}

	var auth *proxy.Auth
	if u.User != nil {
		password, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: password}
	}
	dialer, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}, nil
}

// CheckResponse classifies a finished request: transport errors by KindOf,
// 401/403 as KindSessionInvalid, 408/504 as KindTimeout and other
// non-2xx statuses as KindUnknown.
func CheckResponse(resp *resty.Response, err error) error {
	if err != nil {
		return NewError(KindOf(err), err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return SessionInvalid(fmt.Errorf("status %d", code))
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return Timeout(fmt.Errorf("status %d", code))
	case code < 200 || code > 299:
		return Unknown(fmt.Errorf("status %d", code))
	}
	return nil
}
