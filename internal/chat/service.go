// Package chat orchestrates a conversation turn end to end: prompt assembly
// from stored history, the agentic tool loop, retrieval collation, and the
// reduced event stream handed to the transport.
package chat

import (
	"context"
	"fmt"
	"iter"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/collate"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/deployment"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/stream"
	"github.com/parleyhq/parley/internal/tools"
)

// DefaultMaxTurns bounds the tool loop. The final turn runs without tools
// so the model has to answer.
const DefaultMaxTurns = 4

// DefaultHistoryLimit caps how many stored messages feed the prompt.
const DefaultHistoryLimit = 50

// ConversationStore is the slice of the conversation store the service
// reads and writes outside the reducer.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID, title string) (*conversation.Conversation, error)
	Conversation(ctx context.Context, id uuid.UUID, userID string) (*conversation.Conversation, error)
	Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*conversation.Message, error)
	AppendMessage(ctx context.Context, m *conversation.Message) error
}

// Exchange is one prior turn supplied by the caller instead of being loaded
// from storage. Turns carrying external history are ephemeral: nothing is
// persisted.
type Exchange struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// Exchange roles.
const (
	RoleUser    = "USER"
	RoleChatbot = "CHATBOT"
)

// Request is one user turn.
type Request struct {
	UserID string
	// ConversationID selects an existing conversation. Zero starts a new
	// one, unless ChatHistory is set.
	ConversationID uuid.UUID
	Message        string
	// ChatHistory replaces stored history. Setting it makes the turn
	// ephemeral.
	ChatHistory []Exchange
}

// Config holds service tuning knobs.
type Config struct {
	// MaxTurns bounds model turns per request. Default: DefaultMaxTurns.
	MaxTurns int
	// HistoryLimit caps stored messages loaded into the prompt.
	// Default: DefaultHistoryLimit.
	HistoryLimit int32
	// Chunk controls how tool output text is split before reranking.
	Chunk collate.ChunkConfig
}

// Service runs chat turns against one deployment.
type Service struct {
	deployment deployment.Deployment
	registry   *tools.Registry
	reranker   collate.Reranker
	store      ConversationStore
	reducer    *stream.Reducer
	logger     log.Logger
	cfg        Config
}

// New creates a chat service. A nil store disables persistence entirely;
// every turn then behaves like an ephemeral one.
func New(dep deployment.Deployment, registry *tools.Registry, reranker collate.Reranker,
	store ConversationStore, reducer *stream.Reducer, logger log.Logger, cfg Config) (*Service, error) {
	if dep == nil {
		return nil, fmt.Errorf("chat: deployment is required")
	}
	if reducer == nil {
		return nil, fmt.Errorf("chat: reducer is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}

	return &Service{
		deployment: dep,
		registry:   registry,
		reranker:   reranker,
		store:      store,
		reducer:    reducer,
		logger:     logger,
		cfg:        cfg,
	}, nil
}

// Chat runs one user turn. Normalized events flow through emit as they are
// produced; the returned state is the final accumulator of the last model
// turn.
func (s *Service) Chat(ctx context.Context, req Request, emit stream.EmitFunc) (*stream.State, error) {
	if req.Message == "" {
		return nil, fmt.Errorf("chat: message is required")
	}

	turn, messages, err := s.prepareTurn(ctx, &req)
	if err != nil {
		return nil, err
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(req.Message)))

	// One accumulator spans every model round of the turn, so documents
	// and citations gathered before a tool exchange survive into the
	// terminal round. executed marks the tool calls already dispatched.
	state := stream.NewState(turn.ConversationID)
	var (
		executed int
		prefix   iter.Seq2[*stream.Event, error]
	)
	for i := 0; i < s.cfg.MaxTurns; i++ {
		withTools := s.registry != nil && len(s.registry.Names()) > 0 && i < s.cfg.MaxTurns-1

		events := s.deployment.Chat(ctx, deployment.Request{Messages: messages, WithTools: withTools})
		if prefix != nil {
			events = concatEvents(prefix, events)
			prefix = nil
		}

		if _, err = s.reducer.ReduceInto(ctx, turn, state, events, emit); err != nil {
			return nil, err
		}

		pending := state.ToolCalls[executed:]
		if len(pending) == 0 {
			return state, nil
		}
		executed = len(state.ToolCalls)

		s.logger.Debug("running tool calls",
			"conversation_id", turn.ConversationID,
			"calls", len(pending))

		results := s.registry.Execute(ctx, pending)
		collated, err := collate.RerankAndChunk(ctx, s.logger, results, s.reranker, s.cfg.Chunk)
		if err != nil {
			return nil, fmt.Errorf("collating tool results: %w", err)
		}

		prefix = oneEvent(searchResultsEvent(collated))
		messages = append(messages, toolMessages(pending, collated)...)
	}

	return state, nil
}

// prepareTurn resolves the conversation, loads prompt history and records
// the user message. Ephemeral requests skip all storage.
func (s *Service) prepareTurn(ctx context.Context, req *Request) (*stream.Turn, []*ai.Message, error) {
	if len(req.ChatHistory) > 0 || s.store == nil {
		messages := make([]*ai.Message, 0, len(req.ChatHistory))
		for _, ex := range req.ChatHistory {
			switch ex.Role {
			case RoleChatbot:
				messages = append(messages, ai.NewModelMessage(ai.NewTextPart(ex.Message)))
			default:
				messages = append(messages, ai.NewUserMessage(ai.NewTextPart(ex.Message)))
			}
		}
		return &stream.Turn{
			UserID:         req.UserID,
			ConversationID: req.ConversationID,
		}, messages, nil
	}

	if req.ConversationID == uuid.Nil {
		title := req.Message
		if len(title) > conversation.TitleMaxLength {
			title = title[:conversation.TitleMaxLength]
		}
		conv, err := s.store.CreateConversation(ctx, req.UserID, title)
		if err != nil {
			return nil, nil, fmt.Errorf("creating conversation: %w", err)
		}
		req.ConversationID = conv.ID
	} else if _, err := s.store.Conversation(ctx, req.ConversationID, req.UserID); err != nil {
		return nil, nil, fmt.Errorf("loading conversation: %w", err)
	}

	stored, err := s.store.Messages(ctx, req.ConversationID, s.cfg.HistoryLimit, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("loading history: %w", err)
	}
	messages := make([]*ai.Message, 0, len(stored))
	for _, m := range stored {
		if m.Text == "" {
			continue
		}
		switch m.Agent {
		case conversation.AgentChatbot:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(m.Text)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(m.Text)))
		}
	}

	userMsg := &conversation.Message{
		ID:             uuid.New(),
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Agent:          conversation.AgentUser,
		Text:           req.Message,
	}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, nil, fmt.Errorf("recording user message: %w", err)
	}

	return &stream.Turn{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		ResponseMessage: &conversation.Message{
			ID:             uuid.New(),
			ConversationID: req.ConversationID,
			UserID:         req.UserID,
			Agent:          conversation.AgentChatbot,
		},
		Persist: true,
	}, messages, nil
}

// searchResultsEvent adapts collated tool results into the event the next
// reduce pass folds in, materializing each chunk as a document.
func searchResultsEvent(results []collate.ToolResult) *stream.Event {
	var docs []stream.RetrievedDocument
	var raw []map[string]any
	for _, result := range results {
		for _, output := range result.Outputs {
			id, _ := output["document_id"].(string)
			if id == "" {
				id = uuid.NewString()
			}
			text, _ := output.Text()
			docs = append(docs, stream.RetrievedDocument{
				DocumentID: id,
				ToolName:   result.Call.Name,
				Text:       text,
				Fields:     documentFields(output),
			})
			raw = append(raw, output)
		}
	}
	return &stream.Event{
		Type: stream.EventSearchResults,
		SearchResults: &stream.SearchResults{
			Documents:   docs,
			Results:     raw,
			ToolResults: results,
		},
	}
}

// documentFields copies an output's reported fields, dropping the ones a
// RetrievedDocument carries as dedicated attributes.
func documentFields(output collate.Output) map[string]any {
	fields := make(map[string]any, len(output))
	for k, v := range output {
		switch k {
		case "document_id", "tool_name", "text":
			continue
		}
		fields[k] = v
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// toolMessages encodes executed calls and their outputs as prompt messages
// for the next model turn.
func toolMessages(calls []collate.ToolCall, results []collate.ToolResult) []*ai.Message {
	requestParts := make([]*ai.Part, 0, len(calls))
	for _, call := range calls {
		requestParts = append(requestParts, ai.NewToolRequestPart(&ai.ToolRequest{
			Name:  call.Name,
			Input: call.Parameters,
		}))
	}

	messages := []*ai.Message{ai.NewMessage(ai.RoleModel, nil, requestParts...)}
	for _, result := range results {
		outputs := make([]map[string]any, 0, len(result.Outputs))
		for _, output := range result.Outputs {
			outputs = append(outputs, output)
		}
		messages = append(messages, ai.NewMessage(ai.RoleTool, nil,
			ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   result.Call.Name,
				Output: map[string]any{"outputs": outputs},
			})))
	}
	return messages
}

func oneEvent(e *stream.Event) iter.Seq2[*stream.Event, error] {
	return func(yield func(*stream.Event, error) bool) {
		yield(e, nil)
	}
}

func concatEvents(seqs ...iter.Seq2[*stream.Event, error]) iter.Seq2[*stream.Event, error] {
	return func(yield func(*stream.Event, error) bool) {
		for _, seq := range seqs {
			for e, err := range seq {
				if !yield(e, err) {
					return
				}
			}
		}
	}
}
