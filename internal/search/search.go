// Package search provides full-text search over behavior entries, backed by
// Meilisearch with a PostgreSQL fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	ChildID string `json:"childId"`
	Emotion string `json:"emotion"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

// Query describes a search request. ParentID is always set by the caller;
// results never cross a parent boundary.
type Query struct {
	Text          string
	ParentID      string
	FilterChildID string // empty = all of the parent's children
	FilterEmotion string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// EntryRecord is the data indexed for a behavior entry.
type EntryRecord struct {
	ID         string `json:"id"`
	ChildID    string `json:"childId"`
	ParentID   string `json:"parentId"`
	Emotion    string `json:"emotion"`
	Trigger    string `json:"trigger"`
	Resolution string `json:"resolution"`
	Date       string `json:"date"`
}
