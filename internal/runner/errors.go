package runner

import "errors"

var (
	// ErrTooManyFailures is returned when the configured number of
	// consecutive items exhausted their retries.
	ErrTooManyFailures = errors.New("too many consecutive failed items")

	// ErrAlreadyStarted is returned when Run is called on a Controller that
	// left Idle.
	ErrAlreadyStarted = errors.New("run already started")
)
