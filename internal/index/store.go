package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/parleyhq/parley/internal/log"
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("index: document not found")

// Querier is what Store needs from the query layer. *Queries satisfies it;
// tests substitute a mock.
type Querier interface {
	UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error
	SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error)
	DeleteDocument(ctx context.Context, id string) error
	CountDocuments(ctx context.Context, userID string) (int64, error)
}

// Store manages indexed documents. Content is embedded on write and searched
// by cosine similarity.
//
// Store is safe for concurrent use.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   log.Logger
}

// New creates a Store.
func New(querier Querier, embedder ai.Embedder, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{queries: querier, embedder: embedder, logger: logger}
}

// Add embeds and upserts one document. A missing ID gets a fresh UUID; the
// stored document is returned either way.
func (s *Store) Add(ctx context.Context, doc Document) (Document, error) {
	if doc.Content == "" {
		return Document{}, fmt.Errorf("index: document content is empty")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		return Document{}, fmt.Errorf("embedding document %q: %w", doc.ID, err)
	}

	err = s.queries.UpsertDocument(ctx, UpsertDocumentParams{
		ID:        doc.ID,
		UserID:    doc.UserID,
		Title:     doc.Title,
		Source:    doc.Source,
		Content:   doc.Content,
		Metadata:  doc.Metadata,
		Embedding: embedding,
		CreatedAt: pgtype.Timestamptz{Time: doc.CreatedAt, Valid: !doc.CreatedAt.IsZero()},
	})
	if err != nil {
		return Document{}, fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}

	s.logger.Debug("indexed document", "id", doc.ID, "content_length", len(doc.Content))
	return doc, nil
}

// Search returns the documents most similar to query, best first.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	embedding, err := s.embed(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.queries.SearchDocuments(queryCtx, SearchDocumentsParams{
		QueryEmbedding: embedding,
		UserID:         cfg.userID,
		ResultLimit:    int32(cfg.topK),
	})
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		doc := Document{
			ID:        row.ID,
			UserID:    row.UserID,
			Title:     row.Title,
			Source:    row.Source,
			Content:   row.Content,
			CreatedAt: row.CreatedAt.Time,
		}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling metadata for %q: %w", row.ID, err)
			}
		}
		results = append(results, Result{Document: doc, Similarity: row.Similarity})
	}
	return results, nil
}

// Delete removes one document.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.queries.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("deleting document %q: %w", id, err)
	}
	return nil
}

// Count returns how many documents are indexed, scoped to userID when set.
func (s *Store) Count(ctx context.Context, userID string) (int64, error) {
	count, err := s.queries.CountDocuments(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

func (s *Store) embed(ctx context.Context, text string) (*pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{{Content: []*ai.Part{ai.NewTextPart(text)}}},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedder returned no embedding")
	}
	v := pgvector.NewVector(resp.Embeddings[0].Embedding)
	return &v, nil
}
