package runner

import (
	"context"

	lockfree "github.com/antigloss/go/concurrent/container/queue"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/retry"
)

// runPool shares items between workers through a lock-free queue. Each
// worker owns an executor and its session; outcomes flow to a single
// committer.
func (c *Controller) runPool(ctx context.Context, items []model.WorkItem, sum *model.RunSummary) error {
	q := lockfree.NewLockfreeQueue()
	for _, item := range items {
		q.Push(item)
	}
	next := func() (model.WorkItem, bool) {
		v := q.Pop()
		if v == nil {
			return model.WorkItem{}, false
		}
		return v.(model.WorkItem), true
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan outcome, c.workers)
	var commitErr error
	committed := make(chan struct{})
	go func() {
		defer close(committed)
		commitCtx := context.WithoutCancel(ctx)
		for o := range outcomes {
			if commitErr != nil {
				continue
			}
			if err := c.commit(commitCtx, o, sum); err != nil {
				commitErr = err
				cancel()
			}
		}
	}()

	g, gctx := errgroup.WithContext(workCtx)
	g.SetLimit(c.workers)
	// The committer drains outcomes until they are closed, so a fetch that
	// finished after an interrupt is still committed.
	emit := func(o outcome) error {
		outcomes <- o
		return nil
	}
	for w := range c.workers {
		g.Go(func() error {
			exec := retry.New(c.factory, c.executorOptions()...)
			defer func() {
				if err := exec.Close(); err != nil {
					c.logger.Warn("failed to close session", "worker", w, "error", err)
				}
			}()
			return c.work(gctx, exec, len(items), next, emit)
		})
	}

	err := g.Wait()
	close(outcomes)
	<-committed

	switch {
	case commitErr != nil:
		return commitErr
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}
