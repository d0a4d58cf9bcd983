package runner

import (
	"context"
	"sync"

	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/relevance"
	"github.com/nao1215/harvester/internal/retry"
)

// outcome is what a worker hands to the committer for one item.
type outcome struct {
	item      model.WorkItem
	results   []string
	exhausted bool
	skipped   bool
}

// work fetches items from next until it runs dry, handing every outcome to
// emit. Items of skipped families are emitted without a fetch.
func (c *Controller) work(ctx context.Context, exec *retry.Executor, total int, next func() (model.WorkItem, bool), emit func(outcome) error) error {
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := make([]model.WorkItem, 0, c.batchSize)
		for len(batch) < c.batchSize {
			item, ok := next()
			if !ok {
				break
			}
			if c.families.skipped(item.Family) {
				if err := emit(outcome{item: item, skipped: true}); err != nil {
					return err
				}
				continue
			}
			batch = append(batch, item)
		}
		if len(batch) == 0 {
			return nil
		}

		if !first && c.throttle != nil {
			if err := c.throttle.Wait(ctx); err != nil {
				return err
			}
		}
		first = false

		outs, err := c.fetch(ctx, exec, batch, total)
		if err != nil {
			return err
		}
		for _, o := range outs {
			if c.throttle != nil {
				c.throttle.Record(len(o.results) > 0 && !o.exhausted)
			}
			if err := emit(o); err != nil {
				return err
			}
		}
	}
}

func (c *Controller) fetch(ctx context.Context, exec *retry.Executor, batch []model.WorkItem, total int) ([]outcome, error) {
	for _, item := range batch {
		c.logger.Info("fetching", "item", item.ID, "index", c.started.Add(1), "total", total)
	}

	if len(batch) == 1 {
		out, err := exec.Do(ctx, batch[0])
		if err != nil {
			return nil, err
		}
		return []outcome{{item: batch[0], results: out.Results, exhausted: out.Exhausted}}, nil
	}

	out, err := exec.DoBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	outs := make([]outcome, len(batch))
	for i, item := range batch {
		outs[i] = outcome{item: item, results: out.Results[i], exhausted: out.Exhausted}
	}
	return outs, nil
}

// commit makes the results of one item durable, then marks the item
// complete. It is only ever called from one goroutine.
func (c *Controller) commit(ctx context.Context, o outcome, sum *model.RunSummary) error {
	if o.skipped {
		sum.Skipped++
		c.logger.Debug("skipping item of exhausted family", "item", o.item.ID, "family", o.item.Family)
		return nil
	}

	kept, dropped := relevance.Keep(c.filter, o.results)
	sum.Irrelevant += dropped

	added := 0
	for _, value := range kept {
		ok, err := c.sink.Append(ctx, c.record(o.item, value))
		if err != nil {
			return c.persisted("results", err)
		}
		if ok {
			added++
		} else {
			sum.Duplicates++
		}
	}
	sum.NewResults += added
	if err := c.persisted("results", c.sink.Flush(ctx)); err != nil {
		return err
	}

	if err := c.progress.Add(ctx, o.item.ID, o.item.Meta); err != nil {
		return c.persisted("progress", err)
	}
	if err := c.persisted("progress", c.progress.Flush(ctx)); err != nil {
		return err
	}
	sum.Processed++

	c.logger.Info("item done",
		"item", o.item.ID,
		"results", len(o.results),
		"new", added,
		"irrelevant", dropped,
	)

	if c.families.observe(o.item.Family, len(kept) == 0) {
		c.logger.Info("skipping rest of family after consecutive empty items",
			"family", o.item.Family,
			"after", c.familySkipAfter,
		)
	}

	if o.exhausted {
		sum.Failed++
		c.failures++
		if c.maxFailures > 0 && c.failures >= c.maxFailures {
			return ErrTooManyFailures
		}
	} else {
		c.failures = 0
	}
	return nil
}

// families tracks consecutive items per family that produced no relevant
// result. Workers read the skipped set while the committer updates it.
type families struct {
	mu      sync.Mutex
	limit   int
	empties map[string]int
	skip    map[string]bool
}

func newFamilies(limit int) *families {
	return &families{
		limit:   limit,
		empties: make(map[string]int),
		skip:    make(map[string]bool),
	}
}

func (f *families) skipped(family string) bool {
	if family == "" || f.limit == 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skip[family]
}

// observe records an item result and reports whether the family just
// became skipped.
func (f *families) observe(family string, empty bool) bool {
	if family == "" || f.limit == 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if !empty {
		f.empties[family] = 0
		return false
	}
	f.empties[family]++
	if f.empties[family] >= f.limit && !f.skip[family] {
		f.skip[family] = true
		return true
	}
	return false
}
