package model

import "strconv"

// Meta keys understood by the collaborators.
const (
	// MetaTitle is the human readable title of an item (article title).
	MetaTitle = "title"

	// MetaPublishTime is the Unix publish time of an article, in seconds.
	MetaPublishTime = "publish_time"

	// MetaProcessedAt is the Unix time an item was marked complete.
	MetaProcessedAt = "processed_at"
)

// WorkItem is one unit of crawl work.
//
// ID is the identity of the item: two items are the same unit of work if and
// only if their IDs are equal. Items are immutable once generated.
type WorkItem struct {
	// ID identifies the unit of work (query string, source word, article URL).
	ID string `json:"id"`

	// Family groups items that share a generation prefix, e.g. "cat a" for
	// "cat aa" ... "cat a9". Empty means the item belongs to no family.
	Family string `json:"family,omitempty"`

	// Seed is the seed term the item was generated from. It is consulted by
	// the relevance filter.
	Seed string `json:"seed,omitempty"`

	// Meta carries collaborator data that travels with the item.
	Meta map[string]string `json:"meta,omitempty"`
}

// NewWorkItem creates a WorkItem with only an ID.
func NewWorkItem(id string) WorkItem {
	return WorkItem{ID: id}
}

// Title returns the MetaTitle value or the ID when no title is attached.
func (w WorkItem) Title() string {
	if t := w.Meta[MetaTitle]; t != "" {
		return t
	}
	return w.ID
}

// PublishTime returns the MetaPublishTime value, or 0 if it is absent or malformed.
func (w WorkItem) PublishTime() int64 {
	v, err := strconv.ParseInt(w.Meta[MetaPublishTime], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// WithMeta returns a copy of the item with key set to value.
// The receiver's Meta map is never modified.
func (w WorkItem) WithMeta(key, value string) WorkItem {
	meta := make(map[string]string, len(w.Meta)+1)
	for k, v := range w.Meta {
		meta[k] = v
	}
	meta[key] = value
	w.Meta = meta
	return w
}

// IDs returns the IDs of items in order.
func IDs(items []WorkItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
