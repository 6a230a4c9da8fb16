// Package search provides full-text search over scraps, backed by
// Meilisearch with a PostgreSQL FTS fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Snippet string `json:"snippet"`
	UserID  string `json:"userId"`
	Visible bool   `json:"visible"`
}

// Query describes a search request. ViewerID is empty for anonymous
// callers, who only ever see visible scraps.
type Query struct {
	Text      string
	ViewerID  string
	OwnedOnly bool
	Limit     int
	Offset    int
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

// ScrapRecord is the data we index per scrap.
type ScrapRecord struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Content string `json:"content"`
	UserID  string `json:"userId"`
	Visible bool   `json:"visible"`
}
