// Package collate merges, chunks, and reranks retrieval tool outputs.
//
// Tool results arriving from one chat turn may answer the same logical query
// several times (duplicate tool calls) and may carry arbitrarily long text.
// RerankAndChunk folds duplicates together, slices long outputs into
// word-bounded chunks, scores the chunks against the originating query via a
// Reranker, and reassembles the surviving chunks under the original tool
// call, ordered by relevance.
package collate

import (
	"context"
	"log/slog"
	"sort"
)

// relevanceThreshold is the minimum rerank score a chunk must exceed to
// survive collation of tool results.
const relevanceThreshold = 0.1

// RerankAndChunk merges tool results by call identity, chunks their outputs,
// reranks each merged group against its query, and returns one ToolResult
// per distinct call in first-discovery order.
//
// Groups bypass reranking unchanged when the call carries no query or when
// the reranker returns a nil response. A group whose outputs produce no
// chunks at all is dropped from the result. A disabled reranker returns the
// input untouched. Reranker errors propagate to the caller unwrapped; no
// partial results are returned.
func RerankAndChunk(ctx context.Context, logger *slog.Logger, toolResults []ToolResult, rr Reranker, chunk ChunkConfig) ([]ToolResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if rr == nil || !rr.Enabled() {
		return toolResults, nil
	}

	merged := mergeByCall(toolResults)

	collated := make([]ToolResult, 0, len(merged))
	for _, group := range merged {
		query, ok := group.Call.Query()
		if !ok {
			// Nothing to score against: pass the merged group through.
			collated = append(collated, group)
			continue
		}

		chunked := chunkOutputs(group.Outputs, chunk)
		if len(chunked) == 0 {
			// No rerankable content; the group disappears from the result.
			logger.Debug("dropping tool result group with no chunkable outputs",
				"tool", group.Call.Name, "query", query)
			continue
		}

		resp, err := rr.Rerank(ctx, query, chunked)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			collated = append(collated, group)
			continue
		}

		group.Outputs = selectRelevant(chunked, resp.Results)
		collated = append(collated, group)
	}

	return collated, nil
}

// mergeByCall groups tool results by call identity, concatenating outputs of
// duplicate calls in arrival order. Group order follows the first occurrence
// of each distinct call.
func mergeByCall(toolResults []ToolResult) []ToolResult {
	var order []string
	groups := make(map[string]*ToolResult, len(toolResults))

	for _, tr := range toolResults {
		key := tr.Call.Key()
		if g, ok := groups[key]; ok {
			g.Outputs = append(g.Outputs, tr.Outputs...)
			continue
		}
		merged := ToolResult{Call: tr.Call, Outputs: append([]Output(nil), tr.Outputs...)}
		groups[key] = &merged
		order = append(order, key)
	}

	out := make([]ToolResult, 0, len(order))
	for _, key := range order {
		out = append(out, *groups[key])
	}
	return out
}

// chunkOutputs expands each output into one derived output per text chunk.
// Outputs without a text field are kept whole as single unsplittable chunks.
func chunkOutputs(outputs []Output, cfg ChunkConfig) []Output {
	var chunked []Output
	for _, out := range outputs {
		text, ok := out.Text()
		if !ok {
			chunked = append(chunked, out)
			continue
		}
		for _, chunk := range SplitText(text, cfg) {
			chunked = append(chunked, out.WithText(chunk))
		}
	}
	return chunked
}

// selectRelevant orders rerank entries by descending score and returns the
// chunk-derived outputs whose score exceeds the relevance threshold, in
// ranked order. Entries with out-of-range indexes are ignored.
func selectRelevant(chunked []Output, results []RankedEntry) []Output {
	ranked := append([]RankedEntry(nil), results...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RelevanceScore > ranked[j].RelevanceScore
	})

	var kept []Output
	for _, entry := range ranked {
		if entry.RelevanceScore <= relevanceThreshold {
			continue
		}
		if entry.Index < 0 || entry.Index >= len(chunked) {
			continue
		}
		kept = append(kept, chunked[entry.Index])
	}
	return kept
}
