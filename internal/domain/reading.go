package domain

import "context"

// ReadingResult is one recommended reading for a participant on a topic.
// It carries no identity beyond its fields.
type ReadingResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Snippet       string `json:"snippet"`
	Year          int    `json:"year,omitempty"`
	PrimarySource bool   `json:"is_primary_source,omitempty"`
}

// ReadingLookup is the external search primitive: one query, one slow and
// quota-limited call. Implementations return *ThrottledError when the
// upstream reports it is over quota.
type ReadingLookup interface {
	Lookup(ctx context.Context, query string) ([]ReadingResult, error)
}
