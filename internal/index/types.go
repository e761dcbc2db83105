// Package index stores documents with vector embeddings in PostgreSQL and
// serves semantic search over them. Retrieval is exposed to the chat loop as
// the search_documents tool.
package index

import "time"

// Document is one indexed piece of content.
type Document struct {
	ID        string
	UserID    string
	Title     string
	Source    string
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Result pairs a document with its similarity to the query, in [0, 1] with
// 1 meaning identical direction.
type Result struct {
	Document   Document
	Similarity float64
}

// Search configuration.
const (
	DefaultTopK          = 5
	DefaultSearchTimeout = 10 * time.Second
)

type searchConfig struct {
	topK    int
	userID  string
	timeout time.Duration
}

// SearchOption customizes a search.
type SearchOption func(*searchConfig)

// WithTopK sets how many documents to return.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithUser restricts results to documents owned by userID.
func WithUser(userID string) SearchOption {
	return func(c *searchConfig) { c.userID = userID }
}

// WithTimeout overrides the per-search deadline.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func buildSearchConfig(opts []SearchOption) searchConfig {
	cfg := searchConfig{topK: DefaultTopK, timeout: DefaultSearchTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
