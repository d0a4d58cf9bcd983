package config

import (
	"maps"
	"time"
)

// Section is one block of the config file. Zero values mean "not set".
type Section struct {
	StateDir        string            `yaml:"state_dir,omitempty"`
	OutDir          string            `yaml:"out_dir,omitempty"`
	Backend         string            `yaml:"backend,omitempty"`
	LogFormat       string            `yaml:"log_format,omitempty"`
	ReportFormat    string            `yaml:"report,omitempty"`
	Proxy           string            `yaml:"proxy,omitempty"`
	Timeout         time.Duration     `yaml:"timeout,omitempty"`
	UserAgent       string            `yaml:"user_agent,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty"`
	Workers         int               `yaml:"workers,omitempty"`
	MaxRetries      int               `yaml:"max_retries,omitempty"`
	DelayLow        time.Duration     `yaml:"delay_low,omitempty"`
	DelayHigh       time.Duration     `yaml:"delay_high,omitempty"`
	FamilySkipAfter int               `yaml:"family_skip_after,omitempty"`
	MaxFailures     int               `yaml:"max_consecutive_failures,omitempty"`

	// suggest
	Language string `yaml:"language,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`

	// translate
	From      string `yaml:"from,omitempty"`
	To        string `yaml:"to,omitempty"`
	BatchSize int    `yaml:"batch_size,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`

	// articles
	Token          string        `yaml:"token,omitempty"`
	Cookie         string        `yaml:"cookie,omitempty"`
	Mode           string        `yaml:"mode,omitempty"`
	Limit          int           `yaml:"limit,omitempty"`
	PageSize       int           `yaml:"page_size,omitempty"`
	PageDelay      time.Duration `yaml:"page_delay,omitempty"`
	StopAfter      int           `yaml:"incremental_stop_after,omitempty"`
	MaxEmptyPages  int           `yaml:"max_empty_pages,omitempty"`
	KeepState      *bool         `yaml:"keep_state,omitempty"`
	IncludeReposts *bool         `yaml:"include_reposts,omitempty"`
}

// File is the structure of the .harvester.yaml config file.
type File struct {
	// Defaults apply to every job unless the job section overrides them.
	Defaults Section `yaml:"defaults,omitempty"`

	Suggest   Section `yaml:"suggest,omitempty"`
	Translate Section `yaml:"translate,omitempty"`
	Articles  Section `yaml:"articles,omitempty"`
}

// Section returns the defaults merged with the section of job.
func (f *File) Section(job string) Section {
	result := f.Defaults
	result.Headers = maps.Clone(f.Defaults.Headers)

	var s Section
	switch job {
	case JobSuggest:
		s = f.Suggest
	case JobTranslate:
		s = f.Translate
	case JobArticles:
		s = f.Articles
	default:
		return result
	}
	result.merge(s)
	return result
}

// merge overrides the fields of dst that o sets.
func (dst *Section) merge(o Section) {
	setString(&dst.StateDir, o.StateDir)
	setString(&dst.OutDir, o.OutDir)
	setString(&dst.Backend, o.Backend)
	setString(&dst.LogFormat, o.LogFormat)
	setString(&dst.ReportFormat, o.ReportFormat)
	setString(&dst.Proxy, o.Proxy)
	setString(&dst.UserAgent, o.UserAgent)
	setString(&dst.Language, o.Language)
	setString(&dst.Endpoint, o.Endpoint)
	setString(&dst.From, o.From)
	setString(&dst.To, o.To)
	setString(&dst.APIKey, o.APIKey)
	setString(&dst.Token, o.Token)
	setString(&dst.Cookie, o.Cookie)
	setString(&dst.Mode, o.Mode)
	setInt(&dst.Workers, o.Workers)
	setInt(&dst.MaxRetries, o.MaxRetries)
	setInt(&dst.FamilySkipAfter, o.FamilySkipAfter)
	setInt(&dst.MaxFailures, o.MaxFailures)
	setInt(&dst.BatchSize, o.BatchSize)
	setInt(&dst.Limit, o.Limit)
	setInt(&dst.PageSize, o.PageSize)
	setInt(&dst.StopAfter, o.StopAfter)
	setInt(&dst.MaxEmptyPages, o.MaxEmptyPages)
	setDuration(&dst.Timeout, o.Timeout)
	setDuration(&dst.DelayLow, o.DelayLow)
	setDuration(&dst.DelayHigh, o.DelayHigh)
	setDuration(&dst.PageDelay, o.PageDelay)
	if o.KeepState != nil {
		dst.KeepState = o.KeepState
	}
	if o.IncludeReposts != nil {
		dst.IncludeReposts = o.IncludeReposts
	}
	if len(o.Headers) > 0 {
		if dst.Headers == nil {
			dst.Headers = make(map[string]string, len(o.Headers))
		}
		maps.Copy(dst.Headers, o.Headers)
	}
}

// Apply copies the fields s sets into the Config.
func (c *Config) Apply(s Section) {
	setString(&c.StateDir, s.StateDir)
	setString(&c.OutDir, s.OutDir)
	setString(&c.Backend, s.Backend)
	setString(&c.LogFormat, s.LogFormat)
	setString(&c.ReportFormat, s.ReportFormat)
	setString(&c.Proxy, s.Proxy)
	setString(&c.UserAgent, s.UserAgent)
	setString(&c.Language, s.Language)
	setString(&c.From, s.From)
	setString(&c.To, s.To)
	setString(&c.APIKey, s.APIKey)
	setString(&c.Token, s.Token)
	setString(&c.Cookie, s.Cookie)
	setString(&c.Mode, s.Mode)
	setInt(&c.Workers, s.Workers)
	setInt(&c.MaxRetries, s.MaxRetries)
	setInt(&c.FamilySkipAfter, s.FamilySkipAfter)
	setInt(&c.MaxConsecutiveFailures, s.MaxFailures)
	setInt(&c.BatchSize, s.BatchSize)
	setInt(&c.Limit, s.Limit)
	setInt(&c.PageSize, s.PageSize)
	setInt(&c.IncrementalStopAfter, s.StopAfter)
	setInt(&c.MaxEmptyPages, s.MaxEmptyPages)
	setDuration(&c.Timeout, s.Timeout)
	setDuration(&c.DelayLow, s.DelayLow)
	setDuration(&c.DelayHigh, s.DelayHigh)
	setDuration(&c.PageDelay, s.PageDelay)
	if s.KeepState != nil {
		c.KeepState = *s.KeepState
	}
	if s.IncludeReposts != nil {
		c.IncludeReposts = *s.IncludeReposts
	}
	if len(s.Headers) > 0 {
		c.Headers = maps.Clone(s.Headers)
	}

	switch c.Job {
	case JobSuggest:
		setString(&c.SuggestEndpoint, s.Endpoint)
	case JobTranslate:
		setString(&c.TranslateEndpoint, s.Endpoint)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
