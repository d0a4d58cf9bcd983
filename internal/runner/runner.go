package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/harvester/internal/fetch"
	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/queue"
	"github.com/nao1215/harvester/internal/relevance"
	"github.com/nao1215/harvester/internal/retry"
	"github.com/nao1215/harvester/internal/store"
	"github.com/nao1215/harvester/internal/throttle"
)

// DefaultFamilySkipAfter is the number of consecutive empty items after
// which the rest of their family is skipped.
const DefaultFamilySkipAfter = 3

// Recorder turns one fetched string of item into a result record.
type Recorder func(item model.WorkItem, value string) model.ResultRecord

// ValueRecord is the default Recorder: the value is the result and the sink
// derives the key from it.
func ValueRecord(item model.WorkItem, value string) model.ResultRecord {
	return model.ResultRecord{Value: value, Item: item.ID}
}

// Controller runs work items to completion. A Controller runs once.
type Controller struct {
	job      string
	key      string
	factory  fetch.SessionFactory
	progress store.ProgressStore
	sink     store.ResultSink
	state    store.StateStore
	keep     bool
	done     []store.Completed
	filter   relevance.Filter
	throttle *throttle.Throttle
	record   Recorder

	workers         int
	batchSize       int
	familySkipAfter int
	maxFailures     int
	retryOpts       []retry.Option

	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	status model.RunStatus

	started  atomic.Int64
	families *families

	// failures counts consecutive exhausted items. Only the committer
	// touches it.
	failures int
}

// Option configures a Controller.
type Option func(*Controller)

// WithJob names the job and run key reported in the summary.
func WithJob(job, key string) Option {
	return func(c *Controller) {
		c.job, c.key = job, key
	}
}

// WithFilter sets the relevance filter. The default keeps every result.
func WithFilter(f relevance.Filter) Option {
	return func(c *Controller) {
		c.filter = f
	}
}

// WithThrottle sets the throttle waited on between fetches. Without one the
// controller does not wait.
func WithThrottle(t *throttle.Throttle) Option {
	return func(c *Controller) {
		c.throttle = t
	}
}

// WithRecorder sets how fetched strings become records.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.record = r
	}
}

// WithState clears the resume cursor of a paged listing when the run
// completes, unless keep is set.
func WithState(state store.StateStore, keep bool) Option {
	return func(c *Controller) {
		c.state, c.keep = state, keep
	}
}

// WithCompleted adds records of finished items besides the progress store,
// such as a result file that doubles as progress.
func WithCompleted(done ...store.Completed) Option {
	return func(c *Controller) {
		c.done = append(c.done, done...)
	}
}

// WithWorkers sets the number of concurrent workers. Values below 1 are
// ignored.
func WithWorkers(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithBatchSize sets the number of items fetched per request by sessions
// implementing fetch.BatchSession. Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithFamilySkipAfter sets how many consecutive empty items skip the rest of
// a family. Zero disables skipping.
func WithFamilySkipAfter(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.familySkipAfter = n
		}
	}
}

// WithMaxConsecutiveFailures fails the run after n consecutive items
// exhausted their retries. Zero disables the limit.
func WithMaxConsecutiveFailures(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.maxFailures = n
		}
	}
}

// WithRetryOptions configures the executor of every worker.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(c *Controller) {
		c.retryOpts = append(c.retryOpts, opts...)
	}
}

// WithLogger sets the logger. It is also handed to the executors.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithClock sets the clock used for the summary times.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates a Controller fetching through sessions from factory, recording
// completion in progress and results in sink.
func New(factory fetch.SessionFactory, progress store.ProgressStore, sink store.ResultSink, opts ...Option) *Controller {
	c := &Controller{
		factory:         factory,
		progress:        progress,
		sink:            sink,
		filter:          relevance.PassAll{},
		record:          ValueRecord,
		workers:         1,
		batchSize:       1,
		familySkipAfter: DefaultFamilySkipAfter,
		logger:          slog.Default(),
		now:             time.Now,
		status:          model.StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.families = newFamilies(c.familySkipAfter)
	return c
}

// Status returns the current state of the run.
func (c *Controller) Status() model.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) setStatus(s model.RunStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

// Run processes items and returns the summary of the run. Items already in
// the progress store are not fetched again.
//
// Cancelling ctx interrupts the run: no new fetch starts, fetches already
// in flight finish and are committed, the stores are flushed and Run
// returns the summary with a nil error. The
// error is non-nil only when the run fatally failed.
func (c *Controller) Run(ctx context.Context, items []model.WorkItem) (*model.RunSummary, error) {
	c.mu.Lock()
	if c.status != model.StatusIdle {
		c.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	c.status = model.StatusRunning
	c.mu.Unlock()

	done := append([]store.Completed{c.progress}, c.done...)
	pending, already := queue.Pending(items, done...)

	sum := &model.RunSummary{
		RunID:       uuid.NewString(),
		Job:         c.job,
		Key:         c.key,
		Status:      model.StatusRunning,
		Total:       len(items),
		AlreadyDone: already,
		StartedAt:   c.now(),
	}
	c.logger.Info("run started",
		"job", c.job,
		"key", c.key,
		"run_id", sum.RunID,
		"total", len(items),
		"already_done", already,
		"pending", len(pending),
		"workers", c.workers,
	)

	var err error
	if c.workers > 1 && len(pending) > 1 {
		err = c.runPool(ctx, pending, sum)
	} else {
		err = c.runSequential(ctx, pending, sum)
	}
	return c.finish(ctx, sum, err)
}

func (c *Controller) runSequential(ctx context.Context, items []model.WorkItem, sum *model.RunSummary) error {
	exec := retry.New(c.factory, c.executorOptions()...)
	defer func() {
		if err := exec.Close(); err != nil {
			c.logger.Warn("failed to close session", "error", err)
		}
	}()

	commitCtx := context.WithoutCancel(ctx)
	i := 0
	next := func() (model.WorkItem, bool) {
		if i >= len(items) {
			return model.WorkItem{}, false
		}
		i++
		return items[i-1], true
	}
	emit := func(r outcome) error {
		return c.commit(commitCtx, r, sum)
	}
	return c.work(ctx, exec, len(items), next, emit)
}

// finish flushes the stores, settles the terminal status and fills the
// summary.
func (c *Controller) finish(ctx context.Context, sum *model.RunSummary, runErr error) (*model.RunSummary, error) {
	flushCtx := context.WithoutCancel(ctx)

	flushErr := errors.Join(
		c.persisted("results", c.sink.Flush(flushCtx)),
		c.persisted("progress", c.progress.Flush(flushCtx)),
	)
	sum.StateFlushed = flushErr == nil

	status := model.StatusCompleted
	switch {
	case runErr != nil && ctx.Err() != nil && errors.Is(runErr, ctx.Err()):
		status = model.StatusInterrupted
	case runErr != nil:
		status = model.StatusFatallyFailed
	}
	if flushErr != nil {
		status = model.StatusFatallyFailed
		runErr = errors.Join(runErr, flushErr)
	}

	if status == model.StatusCompleted && c.state != nil && !c.keep {
		if err := c.state.ClearState(flushCtx); err != nil {
			c.logger.Warn("failed to clear run state", "error", err)
		}
	}

	sum.Status = status
	sum.FinishedAt = c.now()
	c.setStatus(status)

	attrs := []any{
		"status", status.String(),
		"processed", sum.Processed,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"new_results", sum.NewResults,
		"duplicates", sum.Duplicates,
		"elapsed", sum.Elapsed().Round(time.Millisecond),
		"state_flushed", sum.StateFlushed,
	}

	switch status {
	case model.StatusFatallyFailed:
		sum.Error = runErr.Error()
		c.logger.Error("run failed", append(attrs, "error", runErr)...)
		return sum, fmt.Errorf("run %s failed: %w", sum.RunID, runErr)
	case model.StatusInterrupted:
		c.logger.Warn("run interrupted", attrs...)
	default:
		c.logger.Info("run completed", attrs...)
	}
	return sum, nil
}

// persisted reduces a store error: a write that reached the backup path is
// logged and the run continues on its in-memory state. A leftover backup
// file only warrants a warning.
func (c *Controller) persisted(what string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrPersistence):
	case errors.Is(err, store.ErrBackupWritten):
		c.logger.Error("primary write failed, continuing from backup", "store", what, "error", err)
		return nil
	case errors.Is(err, store.ErrStaleBackup):
		c.logger.Warn("backup file left behind", "store", what, "error", err)
		return nil
	}
	return fmt.Errorf("failed to persist %s: %w", what, err)
}

func (c *Controller) executorOptions() []retry.Option {
	base := []retry.Option{retry.WithLogger(c.logger), retry.WithDetachedFetch()}
	return append(base, c.retryOpts...)
}
