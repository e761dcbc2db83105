// Package stream defines the chat-event vocabulary emitted by model
// deployments and the reducer that folds one turn's event stream into
// cumulative response state.
package stream

import "github.com/parleyhq/parley/internal/collate"

// EventType tags one unit of a deployment's incremental response.
type EventType string

// The fixed event vocabulary. Deployments must not emit anything else;
// unknown tags are logged and skipped by the reducer.
const (
	EventStreamStart     EventType = "stream-start"
	EventTextGeneration  EventType = "text-generation"
	EventSearchResults   EventType = "search-results"
	EventSearchQueries   EventType = "search-queries-generation"
	EventToolCalls       EventType = "tool-calls-generation"
	EventCitation        EventType = "citation-generation"
	EventToolCallsChunk  EventType = "tool-calls-chunk"
	EventStreamEnd       EventType = "stream-end"
)

// Event is one inbound deployment event, decoded into its typed payload at
// the deployment boundary. Exactly the field matching Type is set.
type Event struct {
	Type EventType

	Start          *StreamStart
	Text           *TextGeneration
	SearchResults  *SearchResults
	SearchQueries  *SearchQueriesGeneration
	ToolCalls      *ToolCallsGeneration
	Citations      *CitationGeneration
	ToolCallsChunk *ToolCallsChunk
	End            *StreamEnd
}

// missingPayload reports whether Type names a known event whose matching
// payload field is unset. The reducer skips such events instead of
// dereferencing a nil payload.
func (e *Event) missingPayload() bool {
	switch e.Type {
	case EventStreamStart:
		return e.Start == nil
	case EventTextGeneration:
		return e.Text == nil
	case EventSearchResults:
		return e.SearchResults == nil
	case EventSearchQueries:
		return e.SearchQueries == nil
	case EventToolCalls:
		return e.ToolCalls == nil
	case EventCitation:
		return e.Citations == nil
	case EventToolCallsChunk:
		return e.ToolCallsChunk == nil
	case EventStreamEnd:
		return e.End == nil
	default:
		return false
	}
}

// StreamStart opens a turn's stream and names its generation.
type StreamStart struct {
	GenerationID string `json:"generation_id,omitempty"`
}

// TextGeneration carries one incremental text delta.
type TextGeneration struct {
	Text string `json:"text"`
}

// RetrievedDocument is one document reported by a search-results event.
// Fields holds every reported field other than the id, tool name, and text.
type RetrievedDocument struct {
	DocumentID string         `json:"document_id"`
	ToolName   string         `json:"tool_name,omitempty"`
	Text       string         `json:"text"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// SearchResults reports one batch of retrieval output: the documents the
// deployment saw plus the raw per-tool search result entries.
type SearchResults struct {
	Documents   []RetrievedDocument  `json:"documents,omitempty"`
	Results     []map[string]any     `json:"search_results,omitempty"`
	ToolResults []collate.ToolResult `json:"tool_results,omitempty"`
}

// SearchQuery is one generated search query.
type SearchQuery struct {
	Text         string `json:"text"`
	GenerationID string `json:"generation_id,omitempty"`
}

// SearchQueriesGeneration replaces the turn's generated search queries.
type SearchQueriesGeneration struct {
	Queries []SearchQuery `json:"search_queries"`
}

// ToolCallsGeneration announces the tool calls the model wants executed,
// with the plan text explaining them.
type ToolCallsGeneration struct {
	Text      string             `json:"text,omitempty"`
	ToolCalls []collate.ToolCall `json:"tool_calls"`
}

// RawCitation is one citation reported by the deployment: a span of the
// response text plus the tool-reported ids of the documents backing it.
type RawCitation struct {
	Text        string   `json:"text"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// CitationGeneration carries a batch of citations for accumulated text.
type CitationGeneration struct {
	Citations []RawCitation `json:"citations"`
}

// ToolCallsChunk is a partial tool-call delta passed through to the client
// unchanged while the model is still composing the call.
type ToolCallsChunk struct {
	Text          string         `json:"text"`
	ToolCallDelta map[string]any `json:"tool_call_delta,omitempty"`
}

// StreamEnd terminates the turn. ChatHistory, when present, is the
// deployment's view of the full exchange.
type StreamEnd struct {
	FinishReason string           `json:"finish_reason,omitempty"`
	ChatHistory  []map[string]any `json:"chat_history,omitempty"`
}

// Outbound is one normalized event re-emitted to the client, serializable
// as {"event": ..., "data": ...}.
type Outbound struct {
	Event EventType `json:"event"`
	Data  any       `json:"data"`
}
