// Package queue produces the ordered work items of a run.
//
// Generators are pure: the same parameters always produce the same items in
// the same order, which is what lets a run resume by skipping the IDs already
// in progress. Pending applies that skip. Collector builds the item list of a
// paged listing and persists a resume cursor after every page.
package queue
