package store

import (
	"context"
	"errors"

	"github.com/nao1215/harvester/internal/model"
)

var (
	// ErrPersistence is returned when durable state could not be written anywhere.
	ErrPersistence = errors.New("persistence failed")

	// ErrBackupWritten is returned when the primary write failed but the data
	// reached the backup path. The run keeps its in-memory state and continues.
	ErrBackupWritten = errors.New("primary write failed, data written to backup path")

	// ErrStaleBackup is returned when the primary write succeeded but the
	// backup file it replaces could not be removed. Nothing is lost: the
	// backup is merged again on the next open.
	ErrStaleBackup = errors.New("stale backup file could not be removed")

	// ErrCorrupt is returned when an existing state file cannot be decoded.
	ErrCorrupt = errors.New("state file is corrupt")
)

// ProgressStore is the durable set of completed work item IDs.
type ProgressStore interface {
	// Contains reports whether id was marked complete.
	Contains(id string) bool

	// Add marks id complete. meta may carry model.MetaPublishTime.
	// The addition is durable only after Flush.
	Add(ctx context.Context, id string, meta map[string]string) error

	// Flush persists the set.
	Flush(ctx context.Context) error

	// Len returns the number of completed IDs.
	Len() int

	// Close flushes and releases the store.
	Close() error
}

// ResultSink is a durable, deduplicating, append-only store of results.
type ResultSink interface {
	// Has reports whether a record with key is present.
	Has(key string) bool

	// Append adds rec unless its key is present and reports whether it was added.
	// The record is durable only after Flush.
	Append(ctx context.Context, rec model.ResultRecord) (bool, error)

	// Flush persists appended records.
	Flush(ctx context.Context) error

	// Close flushes and releases the sink.
	Close() error
}

// StateStore keeps the resume cursor of a paged listing.
type StateStore interface {
	// LoadState returns the saved state, or nil when there is none.
	LoadState(ctx context.Context) (*model.RunState, error)

	// SaveState persists state.
	SaveState(ctx context.Context, state *model.RunState) error

	// ClearState removes the saved state.
	ClearState(ctx context.Context) error
}

// Completed is the read side of a ProgressStore. Sinks that double as the
// progress record of a job (PairSink) implement it too.
type Completed interface {
	Contains(id string) bool
}
