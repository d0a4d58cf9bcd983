package fetch

import (
	"context"

	"github.com/nao1215/harvester/internal/model"
)

// Session performs fetches for one worker. A Session is used by one
// goroutine at a time.
type Session interface {
	// Fetch returns the result strings of item. An empty slice is a valid
	// answer. Errors should be classifiable with KindOf.
	Fetch(ctx context.Context, item model.WorkItem) ([]string, error)

	// SupportsIncrementalEdit reports whether consecutive fetches of items
	// sharing a prefix can reuse the previous request state.
	SupportsIncrementalEdit() bool

	// Close releases the session.
	Close() error
}

// BatchSession is a Session that can fetch several items in one request.
type BatchSession interface {
	Session

	// FetchBatch returns one result slice per item, in item order.
	FetchBatch(ctx context.Context, items []model.WorkItem) ([][]string, error)
}

// SessionFactory creates a fresh Session.
type SessionFactory func(ctx context.Context) (Session, error)
