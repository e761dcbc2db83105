package rerank

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parleyhq/parley/internal/collate"
	"github.com/parleyhq/parley/internal/log"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "missing base URL", cfg: Config{Model: "rerank-v3.5"}, wantErr: ErrMissingBaseURL},
		{name: "missing model", cfg: Config{BaseURL: "https://example.com"}, wantErr: ErrMissingModel},
		{name: "valid", cfg: Config{BaseURL: "https://example.com", Model: "rerank-v3.5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, log.NewNop())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRerank(t *testing.T) {
	var gotReq rerankRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rerank" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResult{
			{Index: 1, RelevanceScore: 0.92},
			{Index: 0, RelevanceScore: 0.05},
		}})
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "rerank-v3.5"}, log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	docs := []collate.Output{
		{"text": "about cats"},
		{"text": "about go iterators"},
		{"title": "no text field"},
	}
	resp, err := client.Rerank(t.Context(), "go iterators", docs)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("authorization header = %q", gotAuth)
	}
	if gotReq.Model != "rerank-v3.5" || gotReq.Query != "go iterators" {
		t.Errorf("request = %+v", gotReq)
	}
	if len(gotReq.Documents) != 3 || gotReq.Documents[1] != "about go iterators" {
		t.Fatalf("request documents = %v", gotReq.Documents)
	}
	if gotReq.Documents[2] != "" {
		t.Errorf("textless document sent as %q, want empty string", gotReq.Documents[2])
	}

	want := []collate.RankedEntry{
		{Index: 1, RelevanceScore: 0.92},
		{Index: 0, RelevanceScore: 0.05},
	}
	if len(resp.Results) != len(want) {
		t.Fatalf("got %d results, want %d", len(resp.Results), len(want))
	}
	for i, entry := range resp.Results {
		if entry != want[i] {
			t.Errorf("result[%d] = %+v, want %+v", i, entry, want[i])
		}
	}
}

func TestRerankEmptyDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty document list")
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL, Model: "rerank-v3.5"}, log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := client.Rerank(t.Context(), "anything", nil)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("got %d results, want 0", len(resp.Results))
	}
}

func TestRerankStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL, Model: "rerank-v3.5"}, log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = client.Rerank(t.Context(), "q", []collate.Output{{"text": "doc"}})
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("Rerank() error = %v, want %v", err, ErrStatus)
	}
}

func TestDisabled(t *testing.T) {
	if Disabled().Enabled() {
		t.Error("Disabled().Enabled() = true")
	}
	var nilClient *Client
	if nilClient.Enabled() {
		t.Error("nil client reports enabled")
	}
}
