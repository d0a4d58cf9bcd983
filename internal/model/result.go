package model

// ResultRecord is one deduplicated output unit.
//
// Key is the dedup identity of the record and is distinct from the ID of the
// WorkItem that produced it: two different items may yield the same result,
// which a sink stores once.
type ResultRecord struct {
	// Key is the dedup key. Sinks never hold two records with the same Key.
	Key string `json:"key"`

	// Value is the result string (suggestion, translation, article title).
	Value string `json:"value"`

	// Item is the ID of the WorkItem that produced the record.
	Item string `json:"item"`

	// Body is an optional document body (rendered article Markdown).
	Body string `json:"body,omitempty"`

	// Extra holds sink specific columns (source word, publish time).
	Extra map[string]string `json:"extra,omitempty"`
}
