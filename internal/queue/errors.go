package queue

import "errors"

// ErrEmptyRoot is returned when a generator is asked to expand an empty root.
var ErrEmptyRoot = errors.New("root term is empty")

// ErrInvalidMode is returned by ParseMode for unknown mode names.
var ErrInvalidMode = errors.New("invalid mode: must be incremental or full")
