// Package model defines the data structures shared by the harvester packages.
//
// This package contains the following main types:
//   - WorkItem: one addressable unit of crawl work (a query, a word, an article URL)
//   - ResultRecord: one deduplicated output unit headed for a result sink
//   - RunState: the resume cursor of a paged listing
//   - RunSummary: the counters reported when a run reaches a terminal state
//
// The models are serializable to JSON so they can be written to progress
// files, cursor files and the SQLite backend without conversion.
package model
