package stream

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/collate"
	"github.com/parleyhq/parley/internal/conversation"
)

// ConversationWriter is the slice of the conversation store the reducer
// needs for its persistence decisions.
type ConversationWriter interface {
	AppendToolPlan(ctx context.Context, m *conversation.Message, calls []conversation.ToolCallRecord) error
	FinalizeResponse(ctx context.Context, m *conversation.Message) error
	UpdateDescription(ctx context.Context, id uuid.UUID, description string) error
}

// Turn describes the chat turn whose events are being reduced. A nil
// ResponseMessage marks a history-only turn: accumulated state is still
// emitted but nothing is written to the response message or the store.
type Turn struct {
	UserID          string
	ConversationID  uuid.UUID
	ResponseMessage *conversation.Message
	Persist         bool
}

// State is the accumulator folded from one turn's event stream. It is
// owned and mutated exclusively by the reducing goroutine; handlers for
// later events always observe the effects of earlier ones.
type State struct {
	ConversationID uuid.UUID

	GenerationID  string
	Text          string
	Citations     []conversation.Citation
	SearchResults []map[string]any
	SearchQueries []SearchQuery
	ToolCalls     []collate.ToolCall
	ToolResults   []collate.ToolResult
	ChatHistory   []map[string]any
	FinishReason  string

	// Identity map from tool-reported document id to the materialized
	// document. Upserts are last-write-wins; iteration order is first-seen.
	documents     map[string]conversation.Document
	documentOrder []string

	// started records that a stream-start was already emitted outward, so
	// later model rounds folded into the same state reopen silently.
	started bool
}

// NewState creates an empty accumulator for one chat turn.
func NewState(conversationID uuid.UUID) *State {
	return &State{
		ConversationID: conversationID,
		documents:      make(map[string]conversation.Document),
	}
}

// Documents returns the current value list of the document identity map in
// first-seen order.
func (s *State) Documents() []conversation.Document {
	out := make([]conversation.Document, 0, len(s.documentOrder))
	for _, id := range s.documentOrder {
		out = append(out, s.documents[id])
	}
	return out
}

func (s *State) upsertDocument(d conversation.Document) {
	if _, seen := s.documents[d.DocumentID]; !seen {
		s.documentOrder = append(s.documentOrder, d.DocumentID)
	}
	s.documents[d.DocumentID] = d
}

// Outbound payloads that carry more than the inbound event did.

// StartData opens the outward stream, echoing the generation with the
// conversation attached.
type StartData struct {
	GenerationID   string    `json:"generation_id,omitempty"`
	ConversationID uuid.UUID `json:"conversation_id"`
}

// SearchResultsData carries the full current document list alongside the
// batch's raw search results.
type SearchResultsData struct {
	Documents []conversation.Document `json:"documents"`
	Results   []map[string]any        `json:"search_results,omitempty"`
}

// CitationsData carries citations with their resolved documents attached.
type CitationsData struct {
	Citations []conversation.Citation `json:"citations"`
}

// EndData is the consolidated terminal payload: the raw stream-end event
// merged with the full accumulator.
type EndData struct {
	FinishReason  string                  `json:"finish_reason,omitempty"`
	Text          string                  `json:"text"`
	Citations     []conversation.Citation `json:"citations,omitempty"`
	Documents     []conversation.Document `json:"documents,omitempty"`
	SearchResults []map[string]any        `json:"search_results,omitempty"`
	SearchQueries []SearchQuery           `json:"search_queries,omitempty"`
	ToolCalls     []collate.ToolCall      `json:"tool_calls,omitempty"`
	ChatHistory   []map[string]any        `json:"chat_history,omitempty"`
}

// EmitFunc receives one normalized outward event per inbound event. A nil
// EmitFunc reduces without streaming. Returning an error aborts the turn.
type EmitFunc func(Outbound) error

// Reducer folds deployment event streams into turn state and decides what
// gets persisted. A nil store disables persistence regardless of the
// turn's Persist flag.
type Reducer struct {
	store  ConversationWriter
	logger *slog.Logger
}

// New creates a Reducer.
func New(store ConversationWriter, logger *slog.Logger) *Reducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reducer{store: store, logger: logger}
}

// Reduce consumes the turn's events strictly in arrival order, emitting one
// normalized event per inbound event, and returns the final accumulator.
//
// Persistence fires exactly once, on the terminal event; a stream that ends
// without one (cancelled upstream) persists nothing. Unknown event types
// are logged and skipped. All other handler and persistence errors abort
// the turn and propagate to the caller unwrapped in meaning: the reducer
// adds no retries and no recovery.
func (r *Reducer) Reduce(ctx context.Context, turn *Turn, events iter.Seq2[*Event, error], emit EmitFunc) (*State, error) {
	return r.ReduceInto(ctx, turn, NewState(turn.ConversationID), events, emit)
}

// ReduceInto folds events into an existing accumulator. A chat turn that
// spans several model rounds (tools run between them) reuses one state so
// documents, citations, and tool calls accumulate across the whole turn;
// only the first round's stream-start is emitted outward.
func (r *Reducer) ReduceInto(ctx context.Context, turn *Turn, state *State, events iter.Seq2[*Event, error], emit EmitFunc) (*State, error) {
	for event, err := range events {
		if err != nil {
			return nil, err
		}

		data, err := r.apply(ctx, state, turn, event)
		if err != nil {
			return nil, err
		}
		if data == nil {
			continue // skipped event, nothing to emit
		}
		if emit != nil {
			if err := emit(Outbound{Event: event.Type, Data: data}); err != nil {
				return nil, fmt.Errorf("emitting %s event: %w", event.Type, err)
			}
		}
		if event.Type == EventStreamEnd {
			break
		}
	}

	return state, nil
}

// apply dispatches one event to its handler and returns the outward
// payload, or nil for events that produce no outward event.
func (r *Reducer) apply(ctx context.Context, state *State, turn *Turn, event *Event) (any, error) {
	if event.missingPayload() {
		r.logger.Warn("skipping stream event with no payload", "type", event.Type)
		return nil, nil
	}

	switch event.Type {
	case EventStreamStart:
		first := !state.started
		state.started = true
		data := r.handleStart(state, turn, event.Start)
		if !first {
			return nil, nil
		}
		return data, nil
	case EventTextGeneration:
		state.Text += event.Text.Text
		return event.Text, nil
	case EventSearchResults:
		return r.handleSearchResults(state, turn, event.SearchResults), nil
	case EventSearchQueries:
		state.SearchQueries = event.SearchQueries.Queries
		return event.SearchQueries, nil
	case EventToolCalls:
		return r.handleToolCalls(ctx, state, turn, event.ToolCalls)
	case EventCitation:
		return r.handleCitations(state, turn, event.Citations), nil
	case EventToolCallsChunk:
		return event.ToolCallsChunk, nil
	case EventStreamEnd:
		return r.handleEnd(ctx, state, turn, event.End)
	default:
		r.logger.Warn("skipping unrecognized stream event", "type", event.Type)
		return nil, nil
	}
}

func (r *Reducer) handleStart(state *State, turn *Turn, p *StreamStart) StartData {
	state.GenerationID = p.GenerationID
	if turn.ResponseMessage != nil {
		turn.ResponseMessage.GenerationID = p.GenerationID
	}
	return StartData{GenerationID: p.GenerationID, ConversationID: turn.ConversationID}
}

func (r *Reducer) handleSearchResults(state *State, turn *Turn, p *SearchResults) SearchResultsData {
	for _, raw := range p.Documents {
		doc := conversation.Document{
			DocumentID:     raw.DocumentID,
			ToolName:       raw.ToolName,
			Text:           raw.Text,
			Fields:         raw.Fields,
			UserID:         turn.UserID,
			ConversationID: turn.ConversationID,
		}
		if turn.ResponseMessage != nil {
			doc.MessageID = turn.ResponseMessage.ID
		}
		state.upsertDocument(doc)
	}

	docs := state.Documents()
	if turn.ResponseMessage != nil {
		// The message carries the full current document set, not just
		// this batch.
		turn.ResponseMessage.Documents = docs
	}

	state.SearchResults = append(state.SearchResults, p.Results...)
	state.ToolResults = append(state.ToolResults, p.ToolResults...)

	return SearchResultsData{Documents: docs, Results: p.Results}
}

func (r *Reducer) handleToolCalls(ctx context.Context, state *State, turn *Turn, p *ToolCallsGeneration) (any, error) {
	state.ToolCalls = append(state.ToolCalls, p.ToolCalls...)

	if turn.Persist && r.store != nil {
		plan := &conversation.Message{
			ConversationID: turn.ConversationID,
			UserID:         turn.UserID,
			Agent:          conversation.AgentChatbot,
			Text:           p.Text,
			ToolPlan:       p.Text,
		}
		calls := make([]conversation.ToolCallRecord, 0, len(p.ToolCalls))
		for _, tc := range p.ToolCalls {
			calls = append(calls, conversation.ToolCallRecord{Name: tc.Name, Parameters: tc.Parameters})
		}
		if err := r.store.AppendToolPlan(ctx, plan, calls); err != nil {
			return nil, fmt.Errorf("persisting tool plan: %w", err)
		}
	}

	return p, nil
}

func (r *Reducer) handleCitations(state *State, turn *Turn, p *CitationGeneration) CitationsData {
	built := make([]conversation.Citation, 0, len(p.Citations))
	for _, raw := range p.Citations {
		c := conversation.Citation{
			UserID:      turn.UserID,
			Text:        raw.Text,
			Start:       raw.Start,
			End:         raw.End,
			DocumentIDs: raw.DocumentIDs,
		}
		// Resolve against the map as of now; ids never seen stay
		// unresolved and are dropped from the citation's documents.
		for _, id := range raw.DocumentIDs {
			if doc, ok := state.documents[id]; ok {
				c.Documents = append(c.Documents, doc)
			}
		}
		built = append(built, c)
	}

	state.Citations = append(state.Citations, built...)
	return CitationsData{Citations: built}
}

func (r *Reducer) handleEnd(ctx context.Context, state *State, turn *Turn, p *StreamEnd) (any, error) {
	state.FinishReason = p.FinishReason
	state.ChatHistory = p.ChatHistory

	if turn.ResponseMessage != nil {
		turn.ResponseMessage.Text = state.Text
		turn.ResponseMessage.Citations = state.Citations
		turn.ResponseMessage.Documents = state.Documents()
		turn.ResponseMessage.GenerationID = state.GenerationID

		if turn.Persist && r.store != nil {
			if err := r.store.FinalizeResponse(ctx, turn.ResponseMessage); err != nil {
				return nil, fmt.Errorf("persisting response message: %w", err)
			}
			if err := r.store.UpdateDescription(ctx, turn.ConversationID, state.Text); err != nil {
				return nil, fmt.Errorf("updating conversation description: %w", err)
			}
		}
	}

	return EndData{
		FinishReason:  state.FinishReason,
		Text:          state.Text,
		Citations:     state.Citations,
		Documents:     state.Documents(),
		SearchResults: state.SearchResults,
		SearchQueries: state.SearchQueries,
		ToolCalls:     state.ToolCalls,
		ChatHistory:   state.ChatHistory,
	}, nil
}
