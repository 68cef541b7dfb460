package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultReport  ResultType = "report"
	ResultProject ResultType = "project"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	Category  string     `json:"category,omitempty"`
	Status    string     `json:"status"`
	ProjectID string     `json:"projectId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterCategory string
	FilterStatus   string
	Limit          int
	Offset         int
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

// Indexer can push entities into a search index.
type Indexer interface {
	IndexReport(r ReportRecord) error
	IndexProject(p ProjectRecord) error
	DeleteReport(id string) error
	DeleteProject(id string) error
}

// ReportRecord is the data we index for a report.
type ReportRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Address     string `json:"address"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	ProjectID   string `json:"projectId"`
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Area        string `json:"area"`
	Status      string `json:"status"`
}
