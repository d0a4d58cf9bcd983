// Package retry runs fetches with bounded retries, randomized backoff and
// session renewal.
//
// An Executor owns at most one live fetch.Session, created lazily from its
// SessionFactory. A fetch failing with fetch.KindSessionInvalid closes the
// session and replaces it with a fresh one; any other failure waits a
// randomized backoff before the next attempt. When every attempt fails the
// item is given up: Execute returns an empty result and no error, so the
// caller still completes the item. Errors are returned only for
// cancellation and for a session that cannot be recovered: the factory
// fails, or a freshly renewed session is rejected as invalid again.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/nao1215/harvester/internal/fetch"
	"github.com/nao1215/harvester/internal/model"
)

// Executor defaults.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// ErrSessionUnrecoverable is returned when the factory cannot create a
// session or a renewed session is invalid on its first fetch, as happens
// when the credentials behind it expired. The run cannot continue.
var ErrSessionUnrecoverable = errors.New("fetch session could not be created")

// Outcome describes how an item was executed.
type Outcome struct {
	// Results are the fetched strings. Empty when the item was given up.
	Results []string

	// Attempts is the number of fetches made.
	Attempts int

	// Exhausted reports that every attempt failed.
	Exhausted bool

	// Err is the error of the last failed attempt.
	Err error
}

// BatchOutcome describes how a batch of items was executed.
type BatchOutcome struct {
	// Results holds one result slice per item. Empty when the batch was
	// given up.
	Results [][]string

	Attempts  int
	Exhausted bool
	Err       error
}

// Executor executes fetches with retries. It is used by one goroutine at a
// time; pool workers each own an Executor.
type Executor struct {
	factory    fetch.SessionFactory
	session    fetch.Session
	renewed    bool
	detached   bool
	maxRetries int
	baseDelay  time.Duration
	rand       func() float64
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxRetries sets the number of attempts per item. Values below 1 are
// ignored.
func WithMaxRetries(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithBaseDelay sets the backoff base.
func WithBaseDelay(d time.Duration) Option {
	return func(e *Executor) {
		e.baseDelay = d
	}
}

// WithRand sets the random source, returning values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(e *Executor) {
		e.rand = fn
	}
}

// WithSleep replaces the context-aware sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = fn
	}
}

// WithDetachedFetch lets a fetch already in flight run to completion when
// the context is cancelled. No new attempt starts after cancellation and
// backoff waits still end at once.
func WithDetachedFetch() Option {
	return func(e *Executor) {
		e.detached = true
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// New creates an Executor drawing sessions from factory.
func New(factory fetch.SessionFactory, opts ...Option) *Executor {
	e := &Executor{
		factory:    factory,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		rand:       rand.Float64,
		sleep:      sleep,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Backoff returns the wait after the given failed attempt:
// uniform(base*attempt, 2*base*attempt) for r drawn from [0, 1).
func Backoff(base time.Duration, attempt int, r float64) time.Duration {
	low := base * time.Duration(attempt)
	return low + time.Duration(float64(low)*r)
}

// Session returns the live session, creating one if needed.
func (e *Executor) Session(ctx context.Context) (fetch.Session, error) {
	if e.session != nil {
		return e.session, nil
	}
	s, err := e.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionUnrecoverable, err)
	}
	e.session = s
	return s, nil
}

// Renew closes the live session and creates a fresh one.
func (e *Executor) Renew(ctx context.Context) error {
	if err := e.Close(); err != nil {
		e.logger.Warn("failed to close session", "error", err)
	}
	_, err := e.Session(ctx)
	return err
}

// Close releases the live session. It is safe to call more than once.
func (e *Executor) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Close()
	e.session = nil
	return err
}

// Execute fetches item, retrying failures. It returns an empty result and a
// nil error when every attempt failed.
func (e *Executor) Execute(ctx context.Context, item model.WorkItem) ([]string, error) {
	out, err := e.Do(ctx, item)
	return out.Results, err
}

// Do is Execute with the details of the execution.
func (e *Executor) Do(ctx context.Context, item model.WorkItem) (Outcome, error) {
	var results []string
	attempts, last, err := e.attempt(ctx, item.ID, func(ctx context.Context, s fetch.Session) error {
		var err error
		results, err = s.Fetch(ctx, item)
		return err
	})
	switch {
	case err != nil:
		return Outcome{Attempts: attempts}, err
	case last != nil:
		return Outcome{Results: []string{}, Attempts: attempts, Exhausted: true, Err: last}, nil
	}
	if results == nil {
		results = []string{}
	}
	return Outcome{Results: results, Attempts: attempts}, nil
}

// DoBatch fetches items in one request when the session is a
// fetch.BatchSession, retrying the batch as a whole. Sessions without batch
// support fetch the items one by one.
func (e *Executor) DoBatch(ctx context.Context, items []model.WorkItem) (BatchOutcome, error) {
	if len(items) == 0 {
		return BatchOutcome{}, nil
	}

	s, err := e.Session(ctx)
	if err != nil {
		return BatchOutcome{}, err
	}
	if _, ok := s.(fetch.BatchSession); !ok {
		return e.doEach(ctx, items)
	}

	var results [][]string
	attempts, last, err := e.attempt(ctx, items[0].ID, func(ctx context.Context, s fetch.Session) error {
		bs, ok := s.(fetch.BatchSession)
		if !ok {
			return fetch.Unknown(errors.New("renewed session does not support batches"))
		}
		var err error
		results, err = bs.FetchBatch(ctx, items)
		if err == nil && len(results) != len(items) {
			err = fetch.Unknown(fmt.Errorf("batch of %d items returned %d results", len(items), len(results)))
		}
		return err
	})
	switch {
	case err != nil:
		return BatchOutcome{Attempts: attempts}, err
	case last != nil:
		return BatchOutcome{Results: make([][]string, len(items)), Attempts: attempts, Exhausted: true, Err: last}, nil
	}
	return BatchOutcome{Results: results, Attempts: attempts}, nil
}

func (e *Executor) doEach(ctx context.Context, items []model.WorkItem) (BatchOutcome, error) {
	out := BatchOutcome{Results: make([][]string, len(items))}
	for i, item := range items {
		o, err := e.Do(ctx, item)
		out.Attempts += o.Attempts
		if err != nil {
			return out, err
		}
		out.Results[i] = o.Results
		if o.Exhausted {
			out.Err = o.Err
		}
	}
	return out, nil
}

// attempt runs fetchOnce up to maxRetries times and returns the number of
// attempts made and the error of the last attempt, nil when one succeeded.
// The third result is a cancellation or an unrecoverable session, which
// ends the run.
func (e *Executor) attempt(ctx context.Context, id string, fetchOnce func(context.Context, fetch.Session) error) (int, error, error) {
	fetchCtx := ctx
	if e.detached {
		fetchCtx = context.WithoutCancel(ctx)
	}

	var last error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, last, err
		}
		s, err := e.Session(ctx)
		if err != nil {
			return attempt - 1, last, err
		}

		last = fetchOnce(fetchCtx, s)
		if last == nil {
			e.renewed = false
			return attempt, nil, nil
		}
		if ctx.Err() != nil {
			return attempt, last, ctx.Err()
		}

		kind := fetch.KindOf(last)
		e.logger.Warn("fetch failed",
			"item", id,
			"attempt", attempt,
			"max_attempts", e.maxRetries,
			"kind", kind.String(),
			"error", last,
		)

		if kind == fetch.KindSessionInvalid {
			if e.renewed {
				return attempt, last, fmt.Errorf("%w: renewed session is still invalid: %w", ErrSessionUnrecoverable, last)
			}
			e.renewed = true
			if attempt == e.maxRetries {
				// The next item creates the replacement.
				if err := e.Close(); err != nil {
					e.logger.Warn("failed to close session", "error", err)
				}
				break
			}
			e.logger.Info("renewing session", "item", id)
			if err := e.Renew(ctx); err != nil {
				return attempt, last, err
			}
			continue
		}
		e.renewed = false
		if attempt == e.maxRetries {
			break
		}

		wait := Backoff(e.baseDelay, attempt, e.rand())
		e.logger.Debug("backing off", "item", id, "wait", wait)
		if err := e.sleep(ctx, wait); err != nil {
			return attempt, last, err
		}
	}

	e.logger.Error("giving up after retries", "item", id, "attempts", e.maxRetries, "error", last)
	return e.maxRetries, last, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
