package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/log"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// ConversationStore is the slice of the conversation store the handlers
// need.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID, title string) (*conversation.Conversation, error)
	Conversation(ctx context.Context, id uuid.UUID, userID string) (*conversation.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit, offset int32) ([]conversation.Conversation, error)
	DeleteConversation(ctx context.Context, id uuid.UUID, userID string) error
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
	Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*conversation.Message, error)
}

type conversationHandler struct {
	store  ConversationStore
	logger log.Logger
}

func (h *conversationHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no user identity", h.logger)
		return
	}

	limit, offset := pagination(r)
	out, err := h.store.ListConversations(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("listing conversations failed", "error", err, "user", userID)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list conversations", h.logger)
		return
	}
	if out == nil {
		out = []conversation.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out}, h.logger)
}

func (h *conversationHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no user identity", h.logger)
		return
	}

	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", h.logger)
		return
	}
	if len(body.Title) > conversation.TitleMaxLength {
		body.Title = body.Title[:conversation.TitleMaxLength]
	}

	c, err := h.store.CreateConversation(r.Context(), userID, body.Title)
	if err != nil {
		h.logger.Error("creating conversation failed", "error", err, "user", userID)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create conversation", h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, c, h.logger)
}

func (h *conversationHandler) get(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.identify(w, r)
	if !ok {
		return
	}

	c, err := h.store.Conversation(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return
		}
		h.logger.Error("getting conversation failed", "error", err, "conversation", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get conversation", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, c, h.logger)
}

func (h *conversationHandler) messages(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.identify(w, r)
	if !ok {
		return
	}

	// Ownership check before exposing messages.
	if _, err := h.store.Conversation(r.Context(), id, userID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return
		}
		h.logger.Error("getting conversation failed", "error", err, "conversation", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get conversation", h.logger)
		return
	}

	limit, offset := pagination(r)
	msgs, err := h.store.Messages(r.Context(), id, limit, offset)
	if err != nil {
		h.logger.Error("listing messages failed", "error", err, "conversation", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list messages", h.logger)
		return
	}
	if msgs == nil {
		msgs = []*conversation.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs}, h.logger)
}

func (h *conversationHandler) updateTitle(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.identify(w, r)
	if !ok {
		return
	}

	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", h.logger)
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusBadRequest, "missing_title", "title is required", h.logger)
		return
	}
	if len(body.Title) > conversation.TitleMaxLength {
		body.Title = body.Title[:conversation.TitleMaxLength]
	}

	if _, err := h.store.Conversation(r.Context(), id, userID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return
		}
		h.logger.Error("getting conversation failed", "error", err, "conversation", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get conversation", h.logger)
		return
	}

	if err := h.store.UpdateTitle(r.Context(), id, body.Title); err != nil {
		h.logger.Error("updating title failed", "error", err, "conversation", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update title", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"}, h.logger)
}

func (h *conversationHandler) delete(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.identify(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteConversation(r.Context(), id, userID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return
		}
		h.logger.Error("deleting conversation failed", "error", err, "conversation", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete conversation", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// identify extracts the user identity and the conversation id path value,
// writing the error response itself when either is missing.
func (h *conversationHandler) identify(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no user identity", h.logger)
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "conversation id must be a UUID", h.logger)
		return "", uuid.Nil, false
	}
	return userID, id, true
}

func pagination(r *http.Request) (limit, offset int32) {
	limit = defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = int32(min(n, maxPageLimit))
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = int32(n)
		}
	}
	return limit, offset
}
