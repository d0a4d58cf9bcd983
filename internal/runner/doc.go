// Package runner drives a crawl run from a list of work items to a
// terminal state.
//
// A Controller moves from Idle to Running and ends Completed, Interrupted
// (context cancelled) or FatallyFailed (no session could be created, the
// renewed session was rejected too, or durable state could not be written
// anywhere). For each item it runs the
// fetch through a retry.Executor, filters the results for relevance,
// appends them to the ResultSink, flushes the sink, marks the item complete
// in the ProgressStore and flushes it, then waits on the throttle. An item
// is marked complete only after its results are durable, so a crash between
// the two steps refetches the item and the sink drops the duplicates.
// An interrupt stops new fetches; a fetch already in flight finishes and
// its item is committed.
//
// With more than one worker, items are shared through a lock-free queue and
// every worker owns its own session; a single writer goroutine commits the
// outcomes, so the sink and the progress store are never touched
// concurrently.
package runner
