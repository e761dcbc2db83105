// Package deployment abstracts the model backend behind an event stream.
//
// A Deployment turns one generation request into the event vocabulary the
// stream reducer consumes. The production implementation drives a Genkit
// model; Echo is a deterministic local backend for development and tests.
package deployment

import (
	"context"
	"iter"

	"github.com/firebase/genkit/go/ai"

	"github.com/parleyhq/parley/internal/stream"
)

// Request is one generation turn.
type Request struct {
	// Messages is the full prompt history, most recent last. The chat
	// service appends the user query and any tool results before calling.
	Messages []*ai.Message
	// WithTools asks the backend to offer its configured tools to the
	// model. Follow-up turns that already carry tool results usually set
	// this too, letting the model chain calls.
	WithTools bool
}

// Deployment streams the events of one model turn. The sequence always
// starts with a stream-start event and, unless the model or transport
// fails, finishes with a stream-end event.
type Deployment interface {
	Chat(ctx context.Context, req Request) iter.Seq2[*stream.Event, error]
}

// Finish reasons reported on stream-end events.
const (
	FinishComplete  = "COMPLETE"
	FinishMaxTokens = "MAX_TOKENS"
	FinishError     = "ERROR"
)

func finishReason(r ai.FinishReason) string {
	switch r {
	case ai.FinishReasonStop:
		return FinishComplete
	case ai.FinishReasonLength:
		return FinishMaxTokens
	case ai.FinishReasonBlocked, ai.FinishReasonInterrupted, ai.FinishReasonOther:
		return FinishError
	default:
		return FinishComplete
	}
}
