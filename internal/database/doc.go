// Package database provides the SQLite backend of harvester.
//
// A single database file holds the durable state of every job:
//   - progress: completed work item IDs per (job, key)
//   - results: deduplicated result records per (job, key)
//   - run_states: resume cursors of paged listings
//   - runs: the history of run summaries
//
// Progress, Results and State are handles scoped to one (job, key) pair and
// implement the store interfaces, so a run can switch between the JSON files
// and SQLite with a flag. SQLite is accessed through modernc.org/sqlite, which
// needs no cgo.
package database
