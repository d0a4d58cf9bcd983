package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Job names.
const (
	JobSuggest   = "suggest"
	JobTranslate = "translate"
	JobArticles  = "articles"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Listing modes of the articles job.
const (
	ModeIncremental = "incremental"
	ModeFull        = "full"
)

// Default configuration values.
// They are tuned for the public suggestion, translation and mp.weixin.qq.com
// endpoints, which rate limit aggressive clients long before bandwidth matters.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "harvester"

	// DefaultTimeout is 20 seconds per HTTP request. Suggestion and translation
	// endpoints answer in well under a second, but article pages and Tor
	// circuits can be slow, and a request that hangs longer than this is
	// better retried than waited on.
	DefaultTimeout = 20 * time.Second

	// DefaultWorkers keeps the suggest job sequential. The suggestion endpoint
	// throttles per client, and the prefix expansion is ordered, so extra
	// workers mostly earn rate limit responses.
	DefaultWorkers = 1

	// DefaultTranslateWorkers of 4 overlaps batch requests to the translation
	// endpoint without tripping its per-client limit in practice.
	DefaultTranslateWorkers = 4

	// DefaultArticleWorkers of 3 downloads a few article pages at a time.
	// The listing itself stays sequential; only page fetches run in parallel.
	DefaultArticleWorkers = 3

	// DefaultMaxRetries is the number of fetch attempts per item, counting
	// the first. Three attempts ride out a dropped connection or a single
	// rate limit response while keeping a dead endpoint from stalling a run.
	DefaultMaxRetries = 3

	// DefaultRetryBaseDelay is the backoff base between attempts. The wait
	// after attempt n is drawn from [n, 2n) times the base, so the default
	// waits 1 to 2 seconds after the first failure and 2 to 4 after the second.
	DefaultRetryBaseDelay = time.Second

	// DefaultDelayLow and DefaultDelayHigh bound the random wait between items.
	// A jittered 2 to 5 second gap looks less like a bot than a fixed interval
	// and is the pace the endpoints tolerate for hours at a time. The adaptive
	// throttle scales this range up after failed items.
	DefaultDelayLow  = 2 * time.Second
	DefaultDelayHigh = 5 * time.Second

	// DefaultFamilySkipAfter is the number of consecutive empty items that
	// skip the rest of their family. When "cat a" through "cat c" all come
	// back empty, longer prefixes of the same seed rarely produce anything.
	DefaultFamilySkipAfter = 3

	// DefaultTranslateFrom and DefaultTranslateTo are the translation languages.
	DefaultTranslateFrom = "en"
	DefaultTranslateTo   = "zh"

	// DefaultBatchSize is the number of words per translation request.
	// Twenty short words keep the joined query small while cutting the
	// request count twentyfold. A batch whose reply does not split back into
	// one part per word is retried word by word.
	DefaultBatchSize = 20

	// DefaultPageSize is the number of publish entries per listing page.
	// Each page costs one request plus DefaultPageDelay, so the listing time
	// of an account shrinks as the page grows.
	DefaultPageSize = 20

	// DefaultPageDelay is the wait between listing pages. Listing requests
	// use the logged in session, and a session that pages too fast is
	// logged out, so listing is paced more slowly than a browser would page.
	DefaultPageDelay = 3 * time.Second

	// DefaultIncrementalStopAfter is the number of consecutive processed
	// articles that end an incremental listing. The listing is newest first,
	// so a short run of known articles means the rest were seen before.
	DefaultIncrementalStopAfter = 3

	// DefaultMaxEmptyPages is the number of consecutive pages without new
	// articles that end a listing. It stops a full listing that keeps
	// returning already collected entries from paging forever.
	DefaultMaxEmptyPages = 10

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap. 3 minutes is typically sufficient for most
	// network conditions, but may need to be increased for slow connections.
	DefaultTorStartupTimeout = 3 * time.Minute
)

// Config holds the options of one run. It is populated from the config
// file, the environment and CLI flags, validated once, and passed down
// explicitly.
type Config struct {
	// Job is the job to run.
	Job string

	// ConfigFilePath is the path of the config file. Empty means search
	// the current and home directories.
	ConfigFilePath string

	// StateDir holds progress files, cursors and the SQLite database.
	StateDir string

	// OutDir receives result files.
	OutDir string

	// Backend selects file or sqlite storage for progress and results.
	Backend string

	// Reset discards the stored progress of the run key before running.
	Reset bool

	// Verbose enables debug logging.
	Verbose bool

	// LogFormat is text or json.
	LogFormat string

	// ReportFormat is text, markdown or json.
	ReportFormat string

	// Proxy is a socks5:// URL all requests go through.
	Proxy string

	// EmbeddedTor starts a Tor daemon and routes requests through it.
	EmbeddedTor bool

	// TorStartupTimeout bounds the embedded Tor bootstrap.
	TorStartupTimeout time.Duration

	// Timeout bounds every HTTP request.
	Timeout time.Duration

	// UserAgent overrides the browser User-Agent.
	UserAgent string

	// Headers are sent with every request.
	Headers map[string]string

	// Workers is the number of concurrent workers.
	Workers int

	// MaxRetries is the number of fetch attempts per item.
	MaxRetries int

	// RetryBaseDelay is the backoff base between attempts.
	RetryBaseDelay time.Duration

	// DelayLow and DelayHigh bound the random wait between items.
	DelayLow  time.Duration
	DelayHigh time.Duration

	// FamilySkipAfter skips the rest of a query family after this many
	// consecutive empty items. Zero disables skipping.
	FamilySkipAfter int

	// MaxConsecutiveFailures fails the run after this many consecutive
	// items exhausted their retries. Zero disables the limit.
	MaxConsecutiveFailures int

	// Root is the seed term of the suggest job.
	Root string

	// Language is the interface language of the suggest endpoint.
	Language string

	// SuggestEndpoint overrides the autocomplete endpoint.
	SuggestEndpoint string

	// Input is the word list of the translate job.
	Input string

	// From and To are the translation languages.
	From string
	To   string

	// BatchSize is the number of words per translation request.
	BatchSize int

	// TranslateEndpoint overrides the translation server.
	TranslateEndpoint string

	// APIKey is sent to the translation server.
	APIKey string

	// Token and Cookie authenticate the articles job.
	Token  string
	Cookie string

	// Mode is incremental or full.
	Mode string

	// Limit caps the number of listed articles. Zero means no limit.
	Limit int

	// PageSize is the listing page size.
	PageSize int

	// PageDelay is the wait between listing pages.
	PageDelay time.Duration

	// IncrementalStopAfter ends an incremental listing after this many
	// consecutive processed articles.
	IncrementalStopAfter int

	// MaxEmptyPages ends a listing after this many pages without new articles.
	MaxEmptyPages int

	// KeepState keeps the listing cursor after a completed run.
	KeepState bool

	// IncludeReposts also exports articles not marked original.
	IncludeReposts bool

	// Info prints the stored state instead of running. The job inputs
	// (root, word list, credentials) are not required then.
	Info bool
}

// NewConfig creates a Config with default values for job.
func NewConfig(job string) *Config {
	c := &Config{
		Job:                  job,
		StateDir:             XDGDataDir(),
		OutDir:               ".",
		Backend:              BackendFile,
		LogFormat:            "text",
		ReportFormat:         "text",
		TorStartupTimeout:    DefaultTorStartupTimeout,
		Timeout:              DefaultTimeout,
		Workers:              DefaultWorkers,
		MaxRetries:           DefaultMaxRetries,
		RetryBaseDelay:       DefaultRetryBaseDelay,
		DelayLow:             DefaultDelayLow,
		DelayHigh:            DefaultDelayHigh,
		FamilySkipAfter:      DefaultFamilySkipAfter,
		From:                 DefaultTranslateFrom,
		To:                   DefaultTranslateTo,
		BatchSize:            DefaultBatchSize,
		Mode:                 ModeIncremental,
		PageSize:             DefaultPageSize,
		PageDelay:            DefaultPageDelay,
		IncrementalStopAfter: DefaultIncrementalStopAfter,
		MaxEmptyPages:        DefaultMaxEmptyPages,
	}
	switch job {
	case JobTranslate:
		c.Workers = DefaultTranslateWorkers
	case JobArticles:
		c.Workers = DefaultArticleWorkers
		c.OutDir = "articles"
	}
	return c
}

// XDGDataDir returns the default state directory.
// On Linux: ~/.local/share/harvester
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for harvester.
// On Linux: ~/.config/harvester
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// JobStateDir returns the state directory of the configured job.
func (c *Config) JobStateDir() string {
	return filepath.Join(c.StateDir, c.Job)
}

// Validate checks the configuration for the configured job and returns the
// first problem found.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.MaxRetries <= 0 {
		return ErrInvalidRetries
	}
	if c.DelayLow < 0 || c.DelayHigh < c.DelayLow || c.RetryBaseDelay < 0 {
		return ErrInvalidDelay
	}
	if c.FamilySkipAfter < 0 || c.MaxConsecutiveFailures < 0 {
		return ErrInvalidLimit
	}
	switch c.Backend {
	case BackendFile, BackendSQLite:
	default:
		return ErrInvalidBackend
	}
	switch c.ReportFormat {
	case "text", "markdown", "json":
	default:
		return ErrInvalidReportFormat
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}

	switch c.Job {
	case JobSuggest:
		if !c.Info && strings.TrimSpace(c.Root) == "" {
			return ErrEmptyRoot
		}
	case JobTranslate:
		if !c.Info && strings.TrimSpace(c.Input) == "" {
			return ErrNoInput
		}
		if c.From == "" || c.To == "" {
			return ErrNoLanguage
		}
		if c.BatchSize <= 0 {
			return ErrInvalidBatchSize
		}
	case JobArticles:
		if !c.Info && (strings.TrimSpace(c.Token) == "" || strings.TrimSpace(c.Cookie) == "") {
			return ErrMissingCredentials
		}
		if c.Limit < 0 || c.IncrementalStopAfter < 0 || c.MaxEmptyPages < 0 || c.PageSize < 0 {
			return ErrInvalidLimit
		}
		if c.PageDelay < 0 {
			return ErrInvalidDelay
		}
		if c.Mode != ModeIncremental && c.Mode != ModeFull {
			return ErrInvalidMode
		}
	default:
		return ErrUnknownJob
	}
	return nil
}

// ApplyEnv fills the credentials from HARVESTER_TOKEN and HARVESTER_COOKIE
// when getenv returns them.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("HARVESTER_TOKEN"); v != "" {
		c.Token = v
	}
	if v := getenv("HARVESTER_COOKIE"); v != "" {
		c.Cookie = v
	}
	if v := getenv("HARVESTER_API_KEY"); v != "" {
		c.APIKey = v
	}
}
