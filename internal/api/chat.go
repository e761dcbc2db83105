package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/stream"
)

// ChatRunner is the slice of the chat service the handlers need.
type ChatRunner interface {
	Chat(ctx context.Context, req chat.Request, emit stream.EmitFunc) (*stream.State, error)
}

type chatHandler struct {
	service ChatRunner
	logger  log.Logger
}

type chatRequest struct {
	ConversationID string          `json:"conversation_id,omitempty"`
	Message        string          `json:"message"`
	ChatHistory    []chat.Exchange `json:"chat_history,omitempty"`
}

func (cr chatRequest) toServiceRequest(userID string) (chat.Request, error) {
	req := chat.Request{
		UserID:      userID,
		Message:     cr.Message,
		ChatHistory: cr.ChatHistory,
	}
	if cr.ConversationID != "" {
		id, err := uuid.Parse(cr.ConversationID)
		if err != nil {
			return chat.Request{}, fmt.Errorf("invalid conversation_id: %w", err)
		}
		req.ConversationID = id
	}
	return req, nil
}

type chatResponse struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	GenerationID   string    `json:"generation_id,omitempty"`
	stream.EndData
}

// send handles POST /api/v1/chat: one full turn, response as a single JSON
// body once generation finishes.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", h.logger)
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "missing_message", "message is required", h.logger)
		return
	}

	req, err := body.toServiceRequest(userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_conversation_id", err.Error(), h.logger)
		return
	}

	state, err := h.service.Chat(r.Context(), req, nil)
	if err != nil {
		h.logger.Error("chat turn failed", "error", err, "user", userID)
		writeError(w, http.StatusBadGateway, "chat_failed", "generation failed", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: state.ConversationID,
		GenerationID:   state.GenerationID,
		EndData: stream.EndData{
			FinishReason:  state.FinishReason,
			Text:          state.Text,
			Citations:     state.Citations,
			Documents:     state.Documents(),
			SearchResults: state.SearchResults,
			SearchQueries: state.SearchQueries,
		},
	}, h.logger)
}

// streamChat handles POST /api/v1/chat/stream: the same turn delivered as
// Server-Sent Events, one SSE event per normalized chat event.
func (h *chatHandler) streamChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", h.logger)
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "missing_message", "message is required", h.logger)
		return
	}

	req, err := body.toServiceRequest(userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_conversation_id", err.Error(), h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	_, err = h.service.Chat(r.Context(), req, func(o stream.Outbound) error {
		return writeEvent(w, flusher, string(o.Event), o.Data)
	})
	if err != nil {
		h.logger.Error("chat stream failed", "error", err, "user", userID)
		if !errors.Is(err, context.Canceled) {
			_ = writeEvent(w, flusher, "error", errorBody{Error: "chat_failed", Message: "generation failed"})
		}
	}
}

// writeEvent writes one SSE frame: "event: <type>\ndata: <json>\n\n".
func writeEvent(w io.Writer, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("writing %s event: %w", event, err)
	}
	flusher.Flush()
	return nil
}
