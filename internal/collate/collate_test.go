package collate

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

// stubReranker scripts rerank responses per call, in order.
type stubReranker struct {
	enabled   bool
	responses []*RerankResponse
	err       error

	calls   int
	queries []string
	docs    [][]Output
}

func (s *stubReranker) Enabled() bool { return s.enabled }

func (s *stubReranker) Rerank(_ context.Context, query string, documents []Output) (*RerankResponse, error) {
	s.queries = append(s.queries, query)
	s.docs = append(s.docs, documents)
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func searchResult(query string, texts ...string) ToolResult {
	outputs := make([]Output, 0, len(texts))
	for _, text := range texts {
		outputs = append(outputs, Output{"text": text})
	}
	return ToolResult{
		Call:    ToolCall{Name: "web_search", Parameters: map[string]any{"query": query}},
		Outputs: outputs,
	}
}

func TestRerankAndChunkDisabledBypass(t *testing.T) {
	input := []ToolResult{searchResult("foo", "A"), searchResult("foo", "B")}
	rr := &stubReranker{enabled: false}

	got, err := RerankAndChunk(t.Context(), slog.Default(), input, rr, ChunkConfig{})
	if err != nil {
		t.Fatalf("RerankAndChunk() error = %v", err)
	}

	// Disabled reranking returns the input slice itself, not a copy.
	if len(got) != len(input) {
		t.Fatalf("got %d results, want %d", len(got), len(input))
	}
	if &got[0] != &input[0] {
		t.Error("disabled bypass did not return the input unchanged")
	}
	if rr.calls != 0 {
		t.Errorf("reranker invoked %d times, want 0", rr.calls)
	}
}

func TestRerankAndChunkMergesDuplicateCalls(t *testing.T) {
	input := []ToolResult{searchResult("foo", "A"), searchResult("foo", "B")}
	rr := &stubReranker{
		enabled: true,
		responses: []*RerankResponse{{Results: []RankedEntry{
			{Index: 0, RelevanceScore: 0.9},
			{Index: 1, RelevanceScore: 0.8},
		}}},
	}

	got, err := RerankAndChunk(t.Context(), slog.Default(), input, rr, ChunkConfig{})
	if err != nil {
		t.Fatalf("RerankAndChunk() error = %v", err)
	}

	if rr.calls != 1 {
		t.Fatalf("reranker invoked %d times, want 1 (merged group)", rr.calls)
	}
	if len(rr.docs[0]) != 2 {
		t.Fatalf("reranker received %d documents, want 2", len(rr.docs[0]))
	}
	if text, _ := rr.docs[0][0].Text(); text != "A" {
		t.Errorf("merged output 0 text = %q, want %q (arrival order)", text, "A")
	}
	if text, _ := rr.docs[0][1].Text(); text != "B" {
		t.Errorf("merged output 1 text = %q, want %q (arrival order)", text, "B")
	}

	if len(got) != 1 {
		t.Fatalf("got %d results, want 1 merged result", len(got))
	}
	if len(got[0].Outputs) != 2 {
		t.Errorf("merged result has %d outputs, want 2", len(got[0].Outputs))
	}
}

func TestRerankAndChunkThresholdFilter(t *testing.T) {
	// Scores at or below 0.1 are excluded; survivors are ordered by
	// descending score.
	input := []ToolResult{searchResult("foo", "low", "high", "mid")}
	rr := &stubReranker{
		enabled: true,
		responses: []*RerankResponse{{Results: []RankedEntry{
			{Index: 0, RelevanceScore: 0.05},
			{Index: 1, RelevanceScore: 0.9},
			{Index: 2, RelevanceScore: 0.4},
		}}},
	}

	got, err := RerankAndChunk(t.Context(), slog.Default(), input, rr, ChunkConfig{})
	if err != nil {
		t.Fatalf("RerankAndChunk() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}

	var texts []string
	for _, out := range got[0].Outputs {
		text, _ := out.Text()
		texts = append(texts, text)
	}
	want := []string{"high", "mid"}
	if len(texts) != len(want) {
		t.Fatalf("outputs = %v, want %v", texts, want)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("output %d = %q, want %q", i, texts[i], want[i])
		}
	}
}

func TestRerankAndChunkNoQueryBypass(t *testing.T) {
	noQuery := ToolResult{
		Call:    ToolCall{Name: "read_file", Parameters: map[string]any{"path": "/tmp/a"}},
		Outputs: []Output{{"text": "contents"}},
	}
	rr := &stubReranker{enabled: true}

	got, err := RerankAndChunk(t.Context(), slog.Default(), []ToolResult{noQuery}, rr, ChunkConfig{})
	if err != nil {
		t.Fatalf("RerankAndChunk() error = %v", err)
	}
	if rr.calls != 0 {
		t.Errorf("reranker invoked %d times, want 0", rr.calls)
	}
	if len(got) != 1 || len(got[0].Outputs) != 1 {
		t.Fatalf("got %+v, want the original group passed through", got)
	}
	if text, _ := got[0].Outputs[0].Text(); text != "contents" {
		t.Errorf("output text = %q, want original %q", text, "contents")
	}
}

func TestRerankAndChunkSearchQueryFallback(t *testing.T) {
	tr := ToolResult{
		Call:    ToolCall{Name: "drive_search", Parameters: map[string]any{"search_query": "bar"}},
		Outputs: []Output{{"text": "doc"}},
	}
	rr := &stubReranker{
		enabled:   true,
		responses: []*RerankResponse{{Results: []RankedEntry{{Index: 0, RelevanceScore: 0.5}}}},
	}

	if _, err := RerankAndChunk(t.Context(), slog.Default(), []ToolResult{tr}, rr, ChunkConfig{}); err != nil {
		t.Fatalf("RerankAndChunk() error = %v", err)
	}
	if len(rr.queries) != 1 || rr.queries[0] != "bar" {
		t.Errorf("reranker queries = %v, want [bar]", rr.queries)
	}
}

func TestRerankAndChunkNilResponsePassthrough(t *testing.T) {
	input := []ToolResult{searchResult("foo", "A", "B")}
	rr := &stubReranker{enabled: true} // scripted to return nil, nil

	got, err := RerankAndChunk(t.Context(), slog.Default(), input, rr, ChunkConfig{})
	if err != nil {
		t.Fatalf("RerankAndChunk() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if len(got[0].Outputs) != 2 {
		t.Errorf("pass-through group has %d outputs, want the 2 original", len(got[0].Outputs))
	}
}

func TestRerankAndChunkDropsEmptyGroup(t *testing.T) {
	// Outputs whose text chunks to nothing leave the group with no
	// rerankable content; such a group disappears from the result.
	empty := searchResult("foo", "")
	kept := searchResult("other", "content")
	rr := &stubReranker{
		enabled:   true,
		responses: []*RerankResponse{{Results: []RankedEntry{{Index: 0, RelevanceScore: 0.7}}}},
	}

	got, err := RerankAndChunk(t.Context(), slog.Default(), []ToolResult{empty, kept}, rr, ChunkConfig{})
	if err != nil {
		t.Fatalf("RerankAndChunk() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1 (empty group dropped)", len(got))
	}
	if q, _ := got[0].Call.Query(); q != "other" {
		t.Errorf("surviving group query = %q, want %q", q, "other")
	}
}

func TestRerankAndChunkTextlessOutputIsSingleChunk(t *testing.T) {
	tr := ToolResult{
		Call:    ToolCall{Name: "web_search", Parameters: map[string]any{"query": "foo"}},
		Outputs: []Output{{"url": "https://example.com"}},
	}
	rr := &stubReranker{
		enabled:   true,
		responses: []*RerankResponse{{Results: []RankedEntry{{Index: 0, RelevanceScore: 0.6}}}},
	}

	got, err := RerankAndChunk(t.Context(), slog.Default(), []ToolResult{tr}, rr, ChunkConfig{})
	if err != nil {
		t.Fatalf("RerankAndChunk() error = %v", err)
	}
	if len(rr.docs[0]) != 1 {
		t.Fatalf("reranker received %d documents, want 1 unsplittable chunk", len(rr.docs[0]))
	}
	if len(got) != 1 || len(got[0].Outputs) != 1 {
		t.Fatalf("got %+v, want single surviving output", got)
	}
	if got[0].Outputs[0]["url"] != "https://example.com" {
		t.Errorf("output fields not preserved: %v", got[0].Outputs[0])
	}
}

func TestRerankAndChunkErrorPropagates(t *testing.T) {
	wantErr := errors.New("rerank backend unavailable")
	rr := &stubReranker{enabled: true, err: wantErr}

	got, err := RerankAndChunk(t.Context(), slog.Default(), []ToolResult{searchResult("foo", "A")}, rr, ChunkConfig{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("RerankAndChunk() error = %v, want %v", err, wantErr)
	}
	if got != nil {
		t.Errorf("got partial results %v on error, want nil", got)
	}
}

func TestRerankAndChunkScenario(t *testing.T) {
	// Two results for the same search merge into one group; after reranking
	// only the chunk scoring above 0.1 survives.
	input := []ToolResult{searchResult("foo", "A"), searchResult("foo", "B")}
	rr := &stubReranker{
		enabled: true,
		responses: []*RerankResponse{{Results: []RankedEntry{
			{Index: 0, RelevanceScore: 0.9},
			{Index: 1, RelevanceScore: 0.05},
		}}},
	}

	got, err := RerankAndChunk(t.Context(), slog.Default(), input, rr, ChunkConfig{})
	if err != nil {
		t.Fatalf("RerankAndChunk() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if len(got[0].Outputs) != 1 {
		t.Fatalf("got %d outputs, want 1 above threshold", len(got[0].Outputs))
	}
	if text, _ := got[0].Outputs[0].Text(); text != "A" {
		t.Errorf("surviving output = %q, want %q", text, "A")
	}
}

func TestToolCallKeyStable(t *testing.T) {
	a := ToolCall{Name: "web_search", Parameters: map[string]any{"query": "x", "limit": 3}}
	b := ToolCall{Name: "web_search", Parameters: map[string]any{"limit": 3, "query": "x"}}
	if a.Key() != b.Key() {
		t.Errorf("Key() not stable across map insertion order: %q vs %q", a.Key(), b.Key())
	}

	c := ToolCall{Name: "web_search", Parameters: map[string]any{"query": "y"}}
	if a.Key() == c.Key() {
		t.Error("Key() collides for different parameters")
	}
}
