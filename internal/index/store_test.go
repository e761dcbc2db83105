package index

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/jackc/pgx/v5"

	"github.com/parleyhq/parley/internal/log"
)

type mockEmbedder struct {
	embeddings []float32
	err        error
	lastInput  string
	calls      int
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(_ api.Registry) {}

func (m *mockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.calls++
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		m.lastInput = req.Input[0].Content[0].Text
	}
	if m.err != nil {
		return nil, m.err
	}
	embedding := m.embeddings
	if embedding == nil {
		embedding = []float32{0.1, 0.2, 0.3}
	}
	return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: embedding}}}, nil
}

type mockQuerier struct {
	upserts    []UpsertDocumentParams
	searchArg  SearchDocumentsParams
	searchRows []SearchDocumentsRow
	deleteErr  error
	count      int64
}

func (m *mockQuerier) UpsertDocument(_ context.Context, arg UpsertDocumentParams) error {
	m.upserts = append(m.upserts, arg)
	return nil
}

func (m *mockQuerier) SearchDocuments(_ context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error) {
	m.searchArg = arg
	return m.searchRows, nil
}

func (m *mockQuerier) DeleteDocument(_ context.Context, _ string) error {
	return m.deleteErr
}

func (m *mockQuerier) CountDocuments(_ context.Context, _ string) (int64, error) {
	return m.count, nil
}

func TestStoreAdd(t *testing.T) {
	querier := &mockQuerier{}
	embedder := &mockEmbedder{}
	store := New(querier, embedder, log.NewNop())

	doc, err := store.Add(t.Context(), Document{
		UserID:   "user-1",
		Title:    "Range functions",
		Content:  "Go iterators range over functions.",
		Metadata: map[string]string{"source_type": "note"},
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if doc.ID == "" {
		t.Error("Add() did not assign an id")
	}
	if len(querier.upserts) != 1 {
		t.Fatalf("got %d upserts, want 1", len(querier.upserts))
	}
	if querier.upserts[0].Embedding == nil {
		t.Error("upsert carried no embedding")
	}
	if embedder.lastInput != "Go iterators range over functions." {
		t.Errorf("embedded text = %q", embedder.lastInput)
	}
}

func TestStoreAddEmptyContent(t *testing.T) {
	store := New(&mockQuerier{}, &mockEmbedder{}, log.NewNop())
	if _, err := store.Add(t.Context(), Document{ID: "x"}); err == nil {
		t.Fatal("Add() with empty content = nil error")
	}
}

func TestStoreSearch(t *testing.T) {
	metadata, _ := json.Marshal(map[string]string{"source_type": "note"})
	querier := &mockQuerier{searchRows: []SearchDocumentsRow{
		{ID: "doc-1", Title: "best", Content: "closest match", Metadata: metadata, Similarity: 0.93},
		{ID: "doc-2", Title: "second", Content: "next", Similarity: 0.71},
	}}
	store := New(querier, &mockEmbedder{}, log.NewNop())

	results, err := store.Search(t.Context(), "match", WithTopK(2), WithUser("user-1"))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if querier.searchArg.ResultLimit != 2 || querier.searchArg.UserID != "user-1" {
		t.Errorf("search params = %+v", querier.searchArg)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Document.ID != "doc-1" || results[0].Similarity != 0.93 {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[0].Document.Metadata["source_type"] != "note" {
		t.Errorf("metadata = %v", results[0].Document.Metadata)
	}
}

func TestStoreSearchEmbedderFailure(t *testing.T) {
	wantErr := errors.New("embedder offline")
	store := New(&mockQuerier{}, &mockEmbedder{err: wantErr}, log.NewNop())

	if _, err := store.Search(t.Context(), "q"); !errors.Is(err, wantErr) {
		t.Fatalf("Search() error = %v, want %v", err, wantErr)
	}
}

func TestStoreDeleteNotFound(t *testing.T) {
	store := New(&mockQuerier{deleteErr: pgx.ErrNoRows}, &mockEmbedder{}, log.NewNop())
	if err := store.Delete(t.Context(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete() error = %v, want %v", err, ErrNotFound)
	}
}

func TestSearchTool(t *testing.T) {
	querier := &mockQuerier{searchRows: []SearchDocumentsRow{
		{ID: "doc-1", Title: "hit", Content: "relevant text", Similarity: 0.88},
	}}
	store := New(querier, &mockEmbedder{}, log.NewNop())
	tool := NewSearchTool(store, 3)

	if tool.Name() != SearchToolName {
		t.Errorf("Name() = %q", tool.Name())
	}

	outputs, err := tool.Call(t.Context(), map[string]any{"query": "relevant", "user_id": "user-1"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(outputs) != 1 {
		t.Fatalf("got %d outputs, want 1", len(outputs))
	}
	if text, _ := outputs[0].Text(); text != "relevant text" {
		t.Errorf("text = %q", text)
	}
	if outputs[0]["document_id"] != "doc-1" {
		t.Errorf("document_id = %v", outputs[0]["document_id"])
	}
	if querier.searchArg.UserID != "user-1" {
		t.Errorf("user scope = %q", querier.searchArg.UserID)
	}

	if _, err := tool.Call(t.Context(), map[string]any{}); err == nil {
		t.Error("Call() without query = nil error")
	}
}
