// Package store provides the file-backed durable state of a run.
//
// It contains:
//   - Progress: the JSON set of completed work item IDs
//   - LineSink, PairSink, DocumentSink: deduplicating result sinks
//   - StateFile: the JSON resume cursor of a paged listing
//
// Every rewrite goes through an atomic write (temp file in the same
// directory, fsync, rename). When the primary write fails the data is
// written to a backup path instead and the returned error wraps
// ErrBackupWritten, so callers can keep running while surfacing the failure.
// When the backup write fails too the error wraps ErrPersistence only.
//
// Opening a store reads its backup back in, so an ID or result that only
// reached the backup is still present after a restart. The next successful
// primary write absorbs the backup and removes it.
//
// Implementations are safe for concurrent use, but a run is expected to
// drive them from a single writer goroutine. Two processes sharing one
// progress file are not supported.
package store
