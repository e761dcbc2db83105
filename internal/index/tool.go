package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/internal/collate"
)

// SearchToolName is the tool identifier for indexed document search.
const SearchToolName = "search_documents"

// Searcher is the search capability SearchTool needs from the store.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error)
}

// SearchTool exposes the index as a chat tool.
type SearchTool struct {
	store Searcher
	topK  int
}

// NewSearchTool wraps store as a tool. topK <= 0 uses DefaultTopK.
func NewSearchTool(store Searcher, topK int) *SearchTool {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &SearchTool{store: store, topK: topK}
}

func (t *SearchTool) Name() string { return SearchToolName }

func (t *SearchTool) Description() string {
	return "Search the user's indexed documents semantically. Takes a query and returns the most relevant passages."
}

// Call performs the search. The optional "user_id" parameter scopes results
// to one owner.
func (t *SearchTool) Call(ctx context.Context, params map[string]any) ([]collate.Output, error) {
	query, _ := params["query"].(string)
	if query == "" {
		query, _ = params["search_query"].(string)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("index: query parameter is required")
	}

	opts := []SearchOption{WithTopK(t.topK)}
	if userID, ok := params["user_id"].(string); ok && userID != "" {
		opts = append(opts, WithUser(userID))
	}

	results, err := t.store.Search(ctx, query, opts...)
	if err != nil {
		return nil, err
	}

	outputs := make([]collate.Output, 0, len(results))
	for _, r := range results {
		outputs = append(outputs, collate.Output{
			"document_id": r.Document.ID,
			"title":       r.Document.Title,
			"source":      r.Document.Source,
			"text":        r.Document.Content,
			"similarity":  r.Similarity,
		})
	}
	return outputs, nil
}
