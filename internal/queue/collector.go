package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/store"
)

// Page is one page of a paged listing.
type Page struct {
	// Items are the items listed on the page, in listing order.
	Items []model.WorkItem

	// Next is the cursor of the following page. Zero means the cursor
	// advances by the number of listed entries, Size.
	Next int

	// Size is the number of raw entries the page covered, which may exceed
	// len(Items) when the pager filters entries out.
	Size int

	// Last reports that the listing has no further pages.
	Last bool
}

// Pager fetches pages of a listing by cursor.
type Pager interface {
	Page(ctx context.Context, cursor int) (Page, error)
}

// Mode selects how a Collector treats items that were already processed.
type Mode int

const (
	// ModeIncremental stops the listing once it reaches processed items.
	ModeIncremental Mode = iota

	// ModeFull walks the whole listing.
	ModeFull
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "incremental"
}

// ParseMode parses "incremental" or "full".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "incremental", "":
		return ModeIncremental, nil
	case "full":
		return ModeFull, nil
	default:
		return ModeIncremental, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Collector defaults.
const (
	DefaultIncrementalStopAfter = 3
	DefaultMaxEmptyPages        = 10
	DefaultPageDelay            = 3 * time.Second
)

// Collector walks a Pager and returns the items not yet processed.
//
// It resumes from the saved RunState, whose Items are the items collected by
// an interrupted listing and whose NextCursor is the page to continue from,
// and saves the state again after every page.
type Collector struct {
	pager         Pager
	progress      store.Completed
	state         store.StateStore
	mode          Mode
	limit         int
	stopAfter     int
	maxEmptyPages int
	pageDelay     time.Duration
	logger        *slog.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithMode sets the collection mode. The default is ModeIncremental.
func WithMode(m Mode) CollectorOption {
	return func(c *Collector) {
		c.mode = m
	}
}

// WithLimit caps the number of collected items. Zero means no cap.
func WithLimit(n int) CollectorOption {
	return func(c *Collector) {
		c.limit = n
	}
}

// WithIncrementalStopAfter sets how many consecutive processed items end an
// incremental listing.
func WithIncrementalStopAfter(n int) CollectorOption {
	return func(c *Collector) {
		c.stopAfter = n
	}
}

// WithMaxEmptyPages sets how many consecutive pages without new items end
// the listing.
func WithMaxEmptyPages(n int) CollectorOption {
	return func(c *Collector) {
		c.maxEmptyPages = n
	}
}

// WithPageDelay sets the wait between page requests.
func WithPageDelay(d time.Duration) CollectorOption {
	return func(c *Collector) {
		c.pageDelay = d
	}
}

// WithCollectorLogger sets the logger.
func WithCollectorLogger(l *slog.Logger) CollectorOption {
	return func(c *Collector) {
		c.logger = l
	}
}

// NewCollector creates a Collector. progress tells which items are done and
// state keeps the resume cursor; both are required.
func NewCollector(pager Pager, progress store.Completed, state store.StateStore, opts ...CollectorOption) *Collector {
	c := &Collector{
		pager:         pager,
		progress:      progress,
		state:         state,
		mode:          ModeIncremental,
		stopAfter:     DefaultIncrementalStopAfter,
		maxEmptyPages: DefaultMaxEmptyPages,
		pageDelay:     DefaultPageDelay,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect walks the listing and returns the collected items that are not in
// progress. On a page error the items collected so far are returned together
// with the error, and the saved state lets the next run continue.
func (c *Collector) Collect(ctx context.Context) ([]model.WorkItem, error) {
	state, err := c.state.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load run state: %w", err)
	}
	if state == nil {
		state = model.NewRunState()
	} else {
		c.logger.Info("resuming listing", "collected", len(state.Items), "cursor", state.NextCursor)
	}

	seen := make(map[string]bool, len(state.Items))
	for _, item := range state.Items {
		seen[item.ID] = true
	}

	cursor := state.NextCursor
	consecutiveProcessed := 0
	emptyPages := 0

	for !c.reachedLimit(state) {
		page, err := c.pager.Page(ctx, cursor)
		if err != nil {
			return c.pending(state), fmt.Errorf("failed to fetch page at %d: %w", cursor, err)
		}
		if len(page.Items) == 0 && page.Size == 0 {
			c.logger.Info("listing exhausted", "cursor", cursor)
			break
		}

		added, processedOnPage, stop := 0, 0, false
		for _, item := range page.Items {
			if c.progress.Contains(item.ID) {
				processedOnPage++
				consecutiveProcessed++
				if c.mode == ModeIncremental && consecutiveProcessed >= c.stopAfter {
					c.logger.Info("reached processed items, stopping listing", "consecutive", consecutiveProcessed)
					stop = true
					break
				}
				continue
			}
			consecutiveProcessed = 0
			if seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			state.Items = append(state.Items, item)
			added++
			if c.reachedLimit(state) {
				break
			}
		}

		if page.Next > 0 {
			cursor = page.Next
		} else {
			size := page.Size
			if size == 0 {
				size = len(page.Items)
			}
			cursor += size
		}
		state.NextCursor = cursor
		if err := c.state.SaveState(ctx, state); err != nil {
			c.logger.Error("failed to save run state", "error", err)
		}
		c.logger.Info("listed page", "new", added, "processed", processedOnPage, "collected", len(state.Items), "next", cursor)

		if stop || page.Last {
			break
		}
		if added == 0 {
			if c.mode == ModeIncremental && processedOnPage > 0 {
				c.logger.Info("page held only processed items, stopping listing")
				break
			}
			emptyPages++
			if emptyPages >= c.maxEmptyPages {
				c.logger.Info("too many pages without new items, stopping listing", "pages", emptyPages)
				break
			}
		} else {
			emptyPages = 0
		}

		if err := sleep(ctx, c.pageDelay); err != nil {
			return c.pending(state), err
		}
	}

	return c.pending(state), nil
}

func (c *Collector) reachedLimit(state *model.RunState) bool {
	return c.limit > 0 && len(state.Items) >= c.limit
}

func (c *Collector) pending(state *model.RunState) []model.WorkItem {
	items, _ := Pending(state.Items, c.progress)
	if c.limit > 0 && len(items) > c.limit {
		items = items[:c.limit]
	}
	return items
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
