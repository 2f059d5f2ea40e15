package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPhrase ResultType = "phrase"
	ResultIssue  ResultType = "issue"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	Code    string     `json:"code,omitempty"`
	Status  string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
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

// PhraseRecord is the data we index for a dictionary phrase.
type PhraseRecord struct {
	ID     string `json:"id"`
	Word   string `json:"word"`
	Code   string `json:"code"`
	Type   string `json:"type"`
	Weight int    `json:"weight"`
	Status string `json:"status"`
}

// IssueRecord is the data we index for an issue.
type IssueRecord struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Status string `json:"status"`
}
