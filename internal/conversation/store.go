// Package conversation persists chat threads, their messages, and the
// retrieval artifacts (documents, citations, tool calls) attached to them.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested conversation does not exist or is not
// owned by the requesting user.
var ErrNotFound = errors.New("conversation not found")

// Querier defines the database operations the store depends on. The
// interface is defined here, by the consumer, so tests can substitute a
// mock for the pgx-backed Queries implementation.
type Querier interface {
	CreateConversation(ctx context.Context, c Conversation) (Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID, userID string) (Conversation, error)
	ListConversations(ctx context.Context, userID string, limit, offset int32) ([]Conversation, error)
	DeleteConversation(ctx context.Context, id uuid.UUID, userID string) error
	UpdateConversationDescription(ctx context.Context, id uuid.UUID, description string) error
	UpdateConversationTitle(ctx context.Context, id uuid.UUID, title string) error

	MaxMessagePosition(ctx context.Context, conversationID uuid.UUID) (int, error)
	CreateMessage(ctx context.Context, m *Message) error
	UpdateMessage(ctx context.Context, id uuid.UUID, text, generationID string) error
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*Message, error)

	CreateDocument(ctx context.Context, d *Document) error
	CreateCitation(ctx context.Context, c *Citation) error
	CreateToolCall(ctx context.Context, tc *ToolCallRecord) error
}

// Store manages conversation persistence on PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	querier Querier
	pool    *pgxpool.Pool // nil in unit tests; disables transactions
	logger  *slog.Logger
}

// New creates a Store. pool may be nil when testing with a mock querier, in
// which case multi-statement writes run without a transaction.
func New(querier Querier, pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{querier: querier, pool: pool, logger: logger}
}

// CreateConversation starts a new conversation for a user.
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (*Conversation, error) {
	c, err := s.querier.CreateConversation(ctx, Conversation{UserID: userID, Title: title})
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	s.logger.Debug("created conversation", "id", c.ID, "user_id", userID)
	return &c, nil
}

// Conversation retrieves one conversation owned by the user.
func (s *Store) Conversation(ctx context.Context, id uuid.UUID, userID string) (*Conversation, error) {
	c, err := s.querier.GetConversation(ctx, id, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting conversation %s: %w", id, err)
	}
	return &c, nil
}

// ListConversations returns the user's conversations ordered by most
// recently updated.
func (s *Store) ListConversations(ctx context.Context, userID string, limit, offset int32) ([]Conversation, error) {
	out, err := s.querier.ListConversations(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return out, nil
}

// DeleteConversation removes a conversation and everything attached to it
// (messages, documents, citations cascade at the schema level).
func (s *Store) DeleteConversation(ctx context.Context, id uuid.UUID, userID string) error {
	if err := s.querier.DeleteConversation(ctx, id, userID); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// UpdateDescription sets the conversation's summary text.
func (s *Store) UpdateDescription(ctx context.Context, id uuid.UUID, description string) error {
	if len(description) > TitleMaxLength {
		description = description[:TitleMaxLength]
	}
	if err := s.querier.UpdateConversationDescription(ctx, id, description); err != nil {
		return fmt.Errorf("updating conversation description: %w", err)
	}
	return nil
}

// UpdateTitle sets the conversation's title.
func (s *Store) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	if err := s.querier.UpdateConversationTitle(ctx, id, title); err != nil {
		return fmt.Errorf("updating conversation title: %w", err)
	}
	return nil
}

// Messages lists a conversation's messages in position order.
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*Message, error) {
	out, err := s.querier.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing messages for %s: %w", conversationID, err)
	}
	return out, nil
}

// AppendMessage writes a message at the next free position in its
// conversation. The message's ID, Position, and CreatedAt are filled in.
func (s *Store) AppendMessage(ctx context.Context, m *Message) error {
	return s.withTx(ctx, m.ConversationID, func(q Querier) error {
		pos, err := q.MaxMessagePosition(ctx, m.ConversationID)
		if err != nil {
			return fmt.Errorf("getting max message position: %w", err)
		}
		m.Position = pos + 1
		if err := q.CreateMessage(ctx, m); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
		return nil
	})
}

// AppendToolPlan writes a tool-plan message plus one child tool-call record
// per requested call, atomically.
func (s *Store) AppendToolPlan(ctx context.Context, m *Message, calls []ToolCallRecord) error {
	return s.withTx(ctx, m.ConversationID, func(q Querier) error {
		pos, err := q.MaxMessagePosition(ctx, m.ConversationID)
		if err != nil {
			return fmt.Errorf("getting max message position: %w", err)
		}
		m.Position = pos + 1
		if err := q.CreateMessage(ctx, m); err != nil {
			return fmt.Errorf("inserting tool plan message: %w", err)
		}
		for i := range calls {
			calls[i].MessageID = m.ID
			if err := q.CreateToolCall(ctx, &calls[i]); err != nil {
				return fmt.Errorf("inserting tool call %d: %w", i, err)
			}
		}
		return nil
	})
}

// FinalizeResponse writes a completed response message: final text and
// generation id, every retrieved document, and every citation, atomically.
// The message row must already exist (AppendMessage at turn start).
func (s *Store) FinalizeResponse(ctx context.Context, m *Message) error {
	err := s.withTx(ctx, m.ConversationID, func(q Querier) error {
		if err := q.UpdateMessage(ctx, m.ID, m.Text, m.GenerationID); err != nil {
			return fmt.Errorf("updating response message: %w", err)
		}
		for i := range m.Documents {
			d := &m.Documents[i]
			d.MessageID = m.ID
			d.ConversationID = m.ConversationID
			d.UserID = m.UserID
			if err := q.CreateDocument(ctx, d); err != nil {
				return fmt.Errorf("inserting document %q: %w", d.DocumentID, err)
			}
		}
		for i := range m.Citations {
			c := &m.Citations[i]
			c.MessageID = m.ID
			c.UserID = m.UserID
			if err := q.CreateCitation(ctx, c); err != nil {
				return fmt.Errorf("inserting citation %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("finalized response message",
		"message_id", m.ID,
		"documents", len(m.Documents),
		"citations", len(m.Citations))
	return nil
}

// withTx runs fn inside a transaction holding the conversation's row lock.
// With a nil pool (mock querier tests) fn runs directly without one.
func (s *Store) withTx(ctx context.Context, conversationID uuid.UUID, fn func(Querier) error) error {
	if s.pool == nil {
		return fn(s.querier)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	q := NewQueries(tx)
	if err := q.LockConversation(ctx, conversationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("locking conversation: %w", err)
	}
	if err := fn(q); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
