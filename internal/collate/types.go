package collate

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
)

// Output field names shared with the tool layer.
const (
	FieldText = "text"
)

// Output is one record produced by a retrieval tool. Every output carries
// at least a "text" field plus arbitrary tool-specific fields (title, url,
// metadata). Map keys mirror the wire representation.
type Output map[string]any

// Text returns the output's text field, and whether one is present.
func (o Output) Text() (string, bool) {
	v, ok := o[FieldText]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// WithText returns a shallow copy of the output with the text field replaced.
// All other fields are inherited unchanged.
func (o Output) WithText(text string) Output {
	cp := make(Output, len(o)+1)
	maps.Copy(cp, o)
	cp[FieldText] = text
	return cp
}

// ToolCall identifies one invocation of a retrieval tool: the tool's name
// plus the parameters it was called with. Two tool calls with the same name
// and parameters are the same logical query.
type ToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Key returns a stable string identity for the call, used to merge results
// that answer the same query. JSON object keys are emitted sorted, so two
// parameter maps with equal contents produce equal keys.
func (c ToolCall) Key() string {
	params, err := json.Marshal(c.Parameters)
	if err != nil {
		// Parameters originate from JSON decoding and always re-marshal;
		// fall back to the name alone rather than failing the merge.
		return c.Name
	}
	return fmt.Sprintf("%s:%s", c.Name, params)
}

// Query extracts the search query from the call parameters, checking the
// "query" key first and "search_query" as a fallback. The second return
// value reports whether any query was found.
func (c ToolCall) Query() (string, bool) {
	for _, key := range []string{"query", "search_query"} {
		if v, ok := c.Parameters[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// ToolResult is the output of one tool invocation. Results sharing an
// identical Call are duplicates of the same logical query and are merged
// before reranking.
type ToolResult struct {
	Call    ToolCall `json:"call"`
	Outputs []Output `json:"outputs"`
}

// RankedEntry is one entry of a rerank response: the index of a submitted
// document and its relevance score against the query.
type RankedEntry struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// RerankResponse is the reranker's scoring of a submitted document list.
type RerankResponse struct {
	Results []RankedEntry `json:"results"`
}

// Reranker scores candidate documents against a query. Implementations must
// not mutate their inputs. A nil response with a nil error means the
// reranker had nothing to say; callers fall back to the unranked outputs.
type Reranker interface {
	// Enabled reports whether reranking is available for this deployment.
	Enabled() bool

	// Rerank scores documents against the query. Results come back keyed
	// by position in the submitted document list.
	Rerank(ctx context.Context, query string, documents []Output) (*RerankResponse, error)
}
