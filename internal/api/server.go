package api

import (
	"errors"
	"net/http"

	"github.com/parleyhq/parley/internal/log"
)

// ErrNilChat indicates the server was built without a chat runner.
var ErrNilChat = errors.New("api: chat runner is required")

// Config assembles the server's dependencies. Conversations and Pinger may
// be nil for ephemeral deployments without a database.
type Config struct {
	Logger        log.Logger
	Chat          ChatRunner
	Conversations ConversationStore
	Pinger        Pinger

	CORSOrigins []string
	TrustProxy  bool
	RateLimit   float64
	RateBurst   int
}

// Server is the HTTP surface of the toolkit.
type Server struct {
	handler http.Handler
}

// New builds the route table and wraps it in the middleware stack.
func New(cfg Config) (*Server, error) {
	if cfg.Chat == nil {
		return nil, ErrNilChat
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	chat := &chatHandler{service: cfg.Chat, logger: logger}
	health := &healthHandler{pinger: cfg.Pinger, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.live)
	mux.HandleFunc("GET /readyz", health.ready)
	mux.HandleFunc("POST /api/v1/chat", chat.send)
	mux.HandleFunc("POST /api/v1/chat/stream", chat.streamChat)

	if cfg.Conversations != nil {
		conv := &conversationHandler{store: cfg.Conversations, logger: logger}
		mux.HandleFunc("GET /api/v1/conversations", conv.list)
		mux.HandleFunc("POST /api/v1/conversations", conv.create)
		mux.HandleFunc("GET /api/v1/conversations/{id}", conv.get)
		mux.HandleFunc("PATCH /api/v1/conversations/{id}", conv.updateTitle)
		mux.HandleFunc("DELETE /api/v1/conversations/{id}", conv.delete)
		mux.HandleFunc("GET /api/v1/conversations/{id}/messages", conv.messages)
	}

	var handler http.Handler = mux
	handler = userMiddleware()(handler)
	if cfg.RateLimit > 0 {
		rl := newRateLimiter(cfg.RateLimit, cfg.RateBurst)
		handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	}
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	return &Server{handler: handler}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}
