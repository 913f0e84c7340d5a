package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Snippet    string `json:"snippet"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Kind       string `json:"kind"`
	CreatedAt  int64  `json:"createdAt"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterSenderID string
	FilterKind     string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over messages.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// MessageRecord is the data we index for a message. File messages
// index their file name so attachments are findable by name.
type MessageRecord struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Kind       string `json:"kind"`
	FileName   string `json:"fileName"`
	CreatedAt  int64  `json:"createdAt"`
}
