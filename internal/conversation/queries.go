package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx operations the query layer needs. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so the same queries run pooled or
// inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the handwritten query layer over the conversation schema.
type Queries struct {
	db DBTX
}

// NewQueries creates a query layer bound to the given connection or
// transaction.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

const createConversationSQL = `
INSERT INTO conversations (id, user_id, title, description)
VALUES ($1, $2, $3, $4)
RETURNING id, user_id, title, description, created_at, updated_at`

func (q *Queries) CreateConversation(ctx context.Context, c Conversation) (Conversation, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	row := q.db.QueryRow(ctx, createConversationSQL, c.ID, c.UserID, c.Title, c.Description)
	return scanConversation(row)
}

const getConversationSQL = `
SELECT id, user_id, title, description, created_at, updated_at
FROM conversations
WHERE id = $1 AND user_id = $2`

func (q *Queries) GetConversation(ctx context.Context, id uuid.UUID, userID string) (Conversation, error) {
	row := q.db.QueryRow(ctx, getConversationSQL, id, userID)
	return scanConversation(row)
}

const listConversationsSQL = `
SELECT id, user_id, title, description, created_at, updated_at
FROM conversations
WHERE user_id = $1
ORDER BY updated_at DESC
LIMIT $2 OFFSET $3`

func (q *Queries) ListConversations(ctx context.Context, userID string, limit, offset int32) ([]Conversation, error) {
	rows, err := q.db.Query(ctx, listConversationsSQL, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const deleteConversationSQL = `DELETE FROM conversations WHERE id = $1 AND user_id = $2`

func (q *Queries) DeleteConversation(ctx context.Context, id uuid.UUID, userID string) error {
	_, err := q.db.Exec(ctx, deleteConversationSQL, id, userID)
	return err
}

const updateConversationDescriptionSQL = `
UPDATE conversations SET description = $2, updated_at = now() WHERE id = $1`

func (q *Queries) UpdateConversationDescription(ctx context.Context, id uuid.UUID, description string) error {
	_, err := q.db.Exec(ctx, updateConversationDescriptionSQL, id, description)
	return err
}

const updateConversationTitleSQL = `
UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1`

func (q *Queries) UpdateConversationTitle(ctx context.Context, id uuid.UUID, title string) error {
	_, err := q.db.Exec(ctx, updateConversationTitleSQL, id, title)
	return err
}

const lockConversationSQL = `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`

// LockConversation takes a row lock so concurrent writers cannot race on
// message positions. Only meaningful inside a transaction.
func (q *Queries) LockConversation(ctx context.Context, id uuid.UUID) error {
	var got uuid.UUID
	return q.db.QueryRow(ctx, lockConversationSQL, id).Scan(&got)
}

const maxMessagePositionSQL = `
SELECT COALESCE(MAX(position), -1) FROM messages WHERE conversation_id = $1`

func (q *Queries) MaxMessagePosition(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var pos int
	err := q.db.QueryRow(ctx, maxMessagePositionSQL, conversationID).Scan(&pos)
	return pos, err
}

const createMessageSQL = `
INSERT INTO messages (id, conversation_id, user_id, agent, text, generation_id, position, tool_plan)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at`

func (q *Queries) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return q.db.QueryRow(ctx, createMessageSQL,
		m.ID, m.ConversationID, m.UserID, m.Agent, m.Text, m.GenerationID, m.Position, m.ToolPlan,
	).Scan(&m.CreatedAt)
}

const updateMessageSQL = `
UPDATE messages SET text = $2, generation_id = $3 WHERE id = $1`

func (q *Queries) UpdateMessage(ctx context.Context, id uuid.UUID, text, generationID string) error {
	_, err := q.db.Exec(ctx, updateMessageSQL, id, text, generationID)
	return err
}

const listMessagesSQL = `
SELECT id, conversation_id, user_id, agent, text, generation_id, position, tool_plan, created_at
FROM messages
WHERE conversation_id = $1
ORDER BY position ASC
LIMIT $2 OFFSET $3`

func (q *Queries) ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*Message, error) {
	rows, err := q.db.Query(ctx, listMessagesSQL, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Agent, &m.Text,
			&m.GenerationID, &m.Position, &m.ToolPlan, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

const createDocumentSQL = `
INSERT INTO documents (id, document_id, conversation_id, message_id, user_id, tool_name, text, fields)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (q *Queries) CreateDocument(ctx context.Context, d *Document) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	fields, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("marshaling document fields: %w", err)
	}
	_, err = q.db.Exec(ctx, createDocumentSQL,
		d.ID, d.DocumentID, d.ConversationID, d.MessageID, d.UserID, d.ToolName, d.Text, fields)
	return err
}

const createCitationSQL = `
INSERT INTO citations (id, message_id, user_id, text, start_idx, end_idx, document_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (q *Queries) CreateCitation(ctx context.Context, c *Citation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	ids, err := json.Marshal(c.DocumentIDs)
	if err != nil {
		return fmt.Errorf("marshaling citation document ids: %w", err)
	}
	_, err = q.db.Exec(ctx, createCitationSQL,
		c.ID, c.MessageID, c.UserID, c.Text, c.Start, c.End, ids)
	return err
}

const createToolCallSQL = `
INSERT INTO tool_calls (id, message_id, name, parameters)
VALUES ($1, $2, $3, $4)`

func (q *Queries) CreateToolCall(ctx context.Context, tc *ToolCallRecord) error {
	if tc.ID == uuid.Nil {
		tc.ID = uuid.New()
	}
	params, err := json.Marshal(tc.Parameters)
	if err != nil {
		return fmt.Errorf("marshaling tool call parameters: %w", err)
	}
	_, err = q.db.Exec(ctx, createToolCallSQL, tc.ID, tc.MessageID, tc.Name, params)
	return err
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}
