package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/stream"
)

type stubChat struct {
	lastReq chat.Request
	state   *stream.State
	events  []stream.Outbound
	err     error
}

func (s *stubChat) Chat(ctx context.Context, req chat.Request, emit stream.EmitFunc) (*stream.State, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	if emit != nil {
		for _, o := range s.events {
			if err := emit(o); err != nil {
				return nil, err
			}
		}
	}
	return s.state, nil
}

type stubConversations struct {
	conversations map[uuid.UUID]*conversation.Conversation
	messages      map[uuid.UUID][]*conversation.Message
	deleted       []uuid.UUID
	titles        map[uuid.UUID]string
}

func newStubConversations() *stubConversations {
	return &stubConversations{
		conversations: make(map[uuid.UUID]*conversation.Conversation),
		messages:      make(map[uuid.UUID][]*conversation.Message),
		titles:        make(map[uuid.UUID]string),
	}
}

func (s *stubConversations) CreateConversation(_ context.Context, userID, title string) (*conversation.Conversation, error) {
	c := &conversation.Conversation{ID: uuid.New(), UserID: userID, Title: title}
	s.conversations[c.ID] = c
	return c, nil
}

func (s *stubConversations) Conversation(_ context.Context, id uuid.UUID, userID string) (*conversation.Conversation, error) {
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return nil, conversation.ErrNotFound
	}
	return c, nil
}

func (s *stubConversations) ListConversations(_ context.Context, userID string, _, _ int32) ([]conversation.Conversation, error) {
	var out []conversation.Conversation
	for _, c := range s.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *stubConversations) DeleteConversation(_ context.Context, id uuid.UUID, userID string) error {
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return conversation.ErrNotFound
	}
	delete(s.conversations, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubConversations) UpdateTitle(_ context.Context, id uuid.UUID, title string) error {
	s.titles[id] = title
	return nil
}

func (s *stubConversations) Messages(_ context.Context, id uuid.UUID, _, _ int32) ([]*conversation.Message, error) {
	return s.messages[id], nil
}

func newTestServer(t *testing.T, runner ChatRunner, store ConversationStore) *Server {
	t.Helper()
	srv, err := New(Config{
		Logger:        log.NewNop(),
		Chat:          runner,
		Conversations: store,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresChat(t *testing.T) {
	if _, err := New(Config{Logger: log.NewNop()}); err == nil {
		t.Fatal("New() without a chat runner should fail")
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &stubChat{}, nil)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want %q", body["status"], "ok")
	}
}

func TestChatSend(t *testing.T) {
	convID := uuid.New()
	runner := &stubChat{state: &stream.State{
		ConversationID: convID,
		GenerationID:   "gen-1",
		Text:           "the answer",
		FinishReason:   "COMPLETE",
	}}
	srv := newTestServer(t, runner, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat", `{"message":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Text != "the answer" {
		t.Errorf("text = %q, want %q", body.Text, "the answer")
	}
	if body.ConversationID != convID {
		t.Errorf("conversation_id = %s, want %s", body.ConversationID, convID)
	}
	if body.FinishReason != "COMPLETE" {
		t.Errorf("finish_reason = %q, want COMPLETE", body.FinishReason)
	}

	if runner.lastReq.Message != "hello" {
		t.Errorf("service received message %q, want %q", runner.lastReq.Message, "hello")
	}
	if runner.lastReq.UserID == "" {
		t.Error("service received empty user id, want an auto-provisioned one")
	}
}

func TestChatSendValidation(t *testing.T) {
	srv := newTestServer(t, &stubChat{state: &stream.State{}}, nil)

	t.Run("empty message", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat", `{"message":""}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat", `{"message":`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("bad conversation id", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat", `{"message":"hi","conversation_id":"nope"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestChatStream(t *testing.T) {
	runner := &stubChat{
		state: &stream.State{Text: "Hi there"},
		events: []stream.Outbound{
			{Event: stream.EventStreamStart, Data: stream.StreamStart{GenerationID: "gen-1"}},
			{Event: stream.EventTextGeneration, Data: stream.TextGeneration{Text: "Hi there"}},
			{Event: stream.EventStreamEnd, Data: stream.EndData{Text: "Hi there", FinishReason: "COMPLETE"}},
		},
	}
	srv := newTestServer(t, runner, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat/stream", `{"message":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"event: stream-start\n",
		"event: text-generation\n",
		"event: stream-end\n",
		`"text":"Hi there"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("stream body missing %q:\n%s", want, body)
		}
	}

	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	if len(frames) != 3 {
		t.Errorf("got %d SSE frames, want 3:\n%s", len(frames), body)
	}
}

func TestConversationCRUD(t *testing.T) {
	store := newStubConversations()
	srv := newTestServer(t, &stubChat{state: &stream.State{}}, store)

	// The uid cookie must be reused across requests so ownership checks
	// pass. Capture it from the first response.
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/conversations", `{"title":"first"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created conversation.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding created conversation: %v", err)
	}
	var uidCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "uid" {
			uidCookie = c
		}
	}
	if uidCookie == nil {
		t.Fatal("create response did not set a uid cookie")
	}

	withCookie := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
		}
		req.AddCookie(uidCookie)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	t.Run("get", func(t *testing.T) {
		rec := withCookie(http.MethodGet, "/api/v1/conversations/"+created.ID.String(), "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		rec := withCookie(http.MethodGet, "/api/v1/conversations/"+uuid.NewString(), "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("get other user", func(t *testing.T) {
		// No cookie means a fresh auto-provisioned identity.
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/conversations/"+created.ID.String(), "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404 for another user's conversation", rec.Code)
		}
	})

	t.Run("list", func(t *testing.T) {
		rec := withCookie(http.MethodGet, "/api/v1/conversations", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body struct {
			Conversations []conversation.Conversation `json:"conversations"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decoding list: %v", err)
		}
		if len(body.Conversations) != 1 {
			t.Errorf("got %d conversations, want 1", len(body.Conversations))
		}
	})

	t.Run("update title", func(t *testing.T) {
		rec := withCookie(http.MethodPatch, "/api/v1/conversations/"+created.ID.String(), `{"title":"renamed"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		if store.titles[created.ID] != "renamed" {
			t.Errorf("stored title = %q, want %q", store.titles[created.ID], "renamed")
		}
	})

	t.Run("messages", func(t *testing.T) {
		store.messages[created.ID] = []*conversation.Message{{ID: uuid.New(), ConversationID: created.ID, Text: "hi"}}
		rec := withCookie(http.MethodGet, "/api/v1/conversations/"+created.ID.String()+"/messages", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body struct {
			Messages []*conversation.Message `json:"messages"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decoding messages: %v", err)
		}
		if len(body.Messages) != 1 || body.Messages[0].Text != "hi" {
			t.Errorf("messages = %+v, want the seeded message", body.Messages)
		}
	})

	t.Run("delete", func(t *testing.T) {
		rec := withCookie(http.MethodDelete, "/api/v1/conversations/"+created.ID.String(), "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		rec = withCookie(http.MethodGet, "/api/v1/conversations/"+created.ID.String(), "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status after delete = %d, want 404", rec.Code)
		}
	})

	t.Run("bad id", func(t *testing.T) {
		rec := withCookie(http.MethodGet, "/api/v1/conversations/not-a-uuid", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestConversationRoutesAbsentWithoutStore(t *testing.T) {
	srv := newTestServer(t, &stubChat{state: &stream.State{}}, nil)
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/conversations", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when no store is configured", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv, err := New(Config{
		Logger:    log.NewNop(),
		Chat:      &stubChat{state: &stream.State{}},
		RateLimit: 1,
		RateBurst: 2,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var limited bool
	for range 5 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Error("burst of requests was never rate limited")
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, &stubChat{state: &stream.State{}}, nil)

	t.Run("generated", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("response is missing X-Request-ID")
		}
	})

	t.Run("echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Request-ID", "req-42")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
			t.Errorf("X-Request-ID = %q, want req-42", got)
		}
	})
}
