package config

import "errors"

// Configuration validation errors returned by Config.Validate. They are
// fatal and reported before any work begins.
var (
	// ErrUnknownJob is returned for a job other than suggest, translate or articles.
	ErrUnknownJob = errors.New("unknown job: must be suggest, translate or articles")

	// ErrEmptyRoot is returned when the suggest root term is empty.
	ErrEmptyRoot = errors.New("root term is empty")

	// ErrNoInput is returned when the translate job has no word list.
	ErrNoInput = errors.New("no input word list specified")

	// ErrNoLanguage is returned when the source or target language is empty.
	ErrNoLanguage = errors.New("source and target languages are required")

	// ErrMissingCredentials is returned when the articles job lacks a token or cookie.
	ErrMissingCredentials = errors.New("token and cookie are required: set them in the config file, with flags, or via HARVESTER_TOKEN and HARVESTER_COOKIE")

	// ErrInvalidTimeout is returned when the request timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid workers: must be positive")

	// ErrInvalidBatchSize is returned when the translation batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrInvalidRetries is returned when the retry count is not positive.
	ErrInvalidRetries = errors.New("invalid max retries: must be positive")

	// ErrInvalidDelay is returned when a delay is negative or the delay range is inverted.
	ErrInvalidDelay = errors.New("invalid delay: must be non-negative with low <= high")

	// ErrInvalidLimit is returned when an item limit or threshold is negative.
	ErrInvalidLimit = errors.New("invalid limit: must be non-negative")

	// ErrInvalidMode is returned for a listing mode other than incremental or full.
	ErrInvalidMode = errors.New("invalid mode: must be incremental or full")

	// ErrInvalidBackend is returned for a storage backend other than file or sqlite.
	ErrInvalidBackend = errors.New("invalid backend: must be file or sqlite")

	// ErrInvalidReportFormat is returned for a report format other than text, markdown or json.
	ErrInvalidReportFormat = errors.New("invalid report format: must be text, markdown or json")

	// ErrInvalidLogFormat is returned for a log format other than text or json.
	ErrInvalidLogFormat = errors.New("invalid log format: must be text or json")
)
