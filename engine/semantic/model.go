package semantic

// Entry is a stored index entry.
type Entry struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Result is a single similarity-search hit. Similarity is cosine
// similarity rounded to 4 decimals; results are ordered descending.
type Result struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
	Similarity float64           `json:"similarity"`
}
