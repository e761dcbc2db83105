package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// DBTX is the subset of pgx operations the query layer needs. Both
// *pgxpool.Pool and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the handwritten query layer over the index_documents table.
type Queries struct {
	db DBTX
}

// NewQueries creates a query layer bound to the given connection or
// transaction.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// UpsertDocumentParams carries one document and its embedding.
type UpsertDocumentParams struct {
	ID        string
	UserID    string
	Title     string
	Source    string
	Content   string
	Metadata  map[string]string
	Embedding *pgvector.Vector
	CreatedAt pgtype.Timestamptz
}

const upsertDocumentSQL = `
INSERT INTO index_documents (id, user_id, title, source, content, metadata, embedding, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
ON CONFLICT (id) DO UPDATE SET
	user_id = EXCLUDED.user_id,
	title = EXCLUDED.title,
	source = EXCLUDED.source,
	content = EXCLUDED.content,
	metadata = EXCLUDED.metadata,
	embedding = EXCLUDED.embedding,
	updated_at = now()`

func (q *Queries) UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error {
	metadata, err := json.Marshal(arg.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	var createdAt any
	if arg.CreatedAt.Valid {
		createdAt = arg.CreatedAt
	}
	_, err = q.db.Exec(ctx, upsertDocumentSQL,
		arg.ID, arg.UserID, arg.Title, arg.Source, arg.Content, metadata, arg.Embedding, createdAt)
	return err
}

// SearchDocumentsParams selects the nearest documents to QueryEmbedding by
// cosine distance. UserID narrows ownership when set.
type SearchDocumentsParams struct {
	QueryEmbedding *pgvector.Vector
	UserID         string
	ResultLimit    int32
}

// SearchDocumentsRow is one search hit.
type SearchDocumentsRow struct {
	ID         string
	UserID     string
	Title      string
	Source     string
	Content    string
	Metadata   []byte
	CreatedAt  pgtype.Timestamptz
	Similarity float64
}

const searchDocumentsSQL = `
SELECT id, user_id, title, source, content, metadata, created_at,
	1 - (embedding <=> $1) AS similarity
FROM index_documents
WHERE ($2 = '' OR user_id = $2)
ORDER BY embedding <=> $1
LIMIT $3`

func (q *Queries) SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error) {
	rows, err := q.db.Query(ctx, searchDocumentsSQL, arg.QueryEmbedding, arg.UserID, arg.ResultLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchDocumentsRow
	for rows.Next() {
		var r SearchDocumentsRow
		if err := rows.Scan(&r.ID, &r.UserID, &r.Title, &r.Source, &r.Content,
			&r.Metadata, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const deleteDocumentSQL = `DELETE FROM index_documents WHERE id = $1`

func (q *Queries) DeleteDocument(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, deleteDocumentSQL, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

const countDocumentsSQL = `SELECT count(*) FROM index_documents WHERE ($1 = '' OR user_id = $1)`

func (q *Queries) CountDocuments(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countDocumentsSQL, userID).Scan(&count)
	return count, err
}
