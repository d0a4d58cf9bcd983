package model

import "time"

// RunStateVersion is written into every persisted RunState.
const RunStateVersion = "1.0"

// RunState is the resume cursor of a paged listing.
//
// NextCursor is the paging offset the next request starts from. Items holds
// the items already collected from earlier pages but not yet processed, so a
// crash in the middle of a listing loses nothing.
type RunState struct {
	// Version is the on-disk format version.
	Version string `json:"version"`

	// NextCursor is the next paging offset to request.
	NextCursor int `json:"next_begin_index"`

	// Items are the items collected so far, in listing order.
	Items []WorkItem `json:"articles"`

	// UpdatedAt is the Unix time of the last update.
	UpdatedAt int64 `json:"last_update_time"`

	// ItemCount mirrors len(Items) for readers that only peek at the file.
	ItemCount int `json:"last_article_count"`
}

// NewRunState creates an empty RunState at cursor zero.
func NewRunState() *RunState {
	return &RunState{Version: RunStateVersion}
}

// Touch updates the bookkeeping fields before the state is persisted.
func (s *RunState) Touch(now time.Time) {
	s.Version = RunStateVersion
	s.UpdatedAt = now.Unix()
	s.ItemCount = len(s.Items)
}

// LastUpdate returns UpdatedAt as a time.Time.
func (s *RunState) LastUpdate() time.Time {
	return time.Unix(s.UpdatedAt, 0)
}
