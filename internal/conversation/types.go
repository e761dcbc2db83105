package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Agent identifies which side of the conversation produced a message.
type Agent string

const (
	AgentUser    Agent = "USER"
	AgentChatbot Agent = "CHATBOT"
)

// TitleMaxLength bounds conversation titles and descriptions.
const TitleMaxLength = 100

// Conversation is one chat thread owned by a user.
type Conversation struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is one turn entry in a conversation: a user prompt, a model
// response, or a tool plan. Response messages accumulate documents and
// citations as the turn's event stream is folded.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Agent          Agent      `json:"agent"`
	Text           string     `json:"text"`
	GenerationID   string     `json:"generation_id,omitempty"`
	Position       int        `json:"position"`
	Documents      []Document `json:"documents,omitempty"`
	Citations      []Citation `json:"citations,omitempty"`
	ToolPlan       string     `json:"tool_plan,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Document is a retrieved source snippet attached to a response message.
// DocumentID is the tool-reported id used for deduplication within a turn;
// Fields carries every tool-reported field except id, tool name, and text.
type Document struct {
	ID             uuid.UUID      `json:"id"`
	DocumentID     string         `json:"document_id"`
	ConversationID uuid.UUID      `json:"conversation_id"`
	MessageID      uuid.UUID      `json:"message_id"`
	UserID         string         `json:"user_id"`
	ToolName       string         `json:"tool_name,omitempty"`
	Text           string         `json:"text"`
	Fields         map[string]any `json:"fields,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Citation anchors a span of response text to the documents that support
// it. DocumentIDs are the tool-reported ids the deployment cited; Documents
// holds the subset that resolved against the turn's retrieved documents.
type Citation struct {
	ID          uuid.UUID  `json:"id"`
	MessageID   uuid.UUID  `json:"message_id"`
	UserID      string     `json:"user_id"`
	Text        string     `json:"text"`
	Start       int        `json:"start"`
	End         int        `json:"end"`
	DocumentIDs []string   `json:"document_ids,omitempty"`
	Documents   []Document `json:"documents,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ToolCallRecord is one persisted tool invocation requested by the model,
// stored as a child of the tool-plan message that announced it.
type ToolCallRecord struct {
	ID         uuid.UUID      `json:"id"`
	MessageID  uuid.UUID      `json:"message_id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
