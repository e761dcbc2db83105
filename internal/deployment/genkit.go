package deployment

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/collate"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/stream"
)

// errStopIteration signals from the streaming callback that the consumer
// stopped pulling events. It never escapes Chat.
var errStopIteration = errors.New("deployment: consumer stopped iteration")

// Genkit drives a Genkit model and translates its output into the chat
// event stream. Tool requests are returned as events rather than executed,
// so the chat service stays in charge of tool dispatch.
type Genkit struct {
	g         *genkit.Genkit
	modelName string
	toolRefs  []ai.ToolRef
	logger    log.Logger
}

// NewGenkit creates a Genkit-backed deployment. toolRefs names the tools the
// model may request; they must already be defined on g.
func NewGenkit(g *genkit.Genkit, modelName string, toolRefs []ai.ToolRef, logger log.Logger) (*Genkit, error) {
	if g == nil {
		return nil, fmt.Errorf("deployment: genkit instance is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("deployment: model name is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Genkit{g: g, modelName: modelName, toolRefs: toolRefs, logger: logger}, nil
}

// Chat runs one model turn. Text deltas surface as they arrive; tool
// requests and the finish reason surface once generation completes.
func (d *Genkit) Chat(ctx context.Context, req Request) iter.Seq2[*stream.Event, error] {
	return func(yield func(*stream.Event, error) bool) {
		generationID := uuid.NewString()
		if !yield(&stream.Event{
			Type:  stream.EventStreamStart,
			Start: &stream.StreamStart{GenerationID: generationID},
		}, nil) {
			return
		}

		stopped := false
		opts := []ai.GenerateOption{
			ai.WithModelName(d.modelName),
			ai.WithMessages(req.Messages...),
			ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
				text := chunk.Text()
				if text == "" {
					return nil
				}
				if !yield(&stream.Event{
					Type: stream.EventTextGeneration,
					Text: &stream.TextGeneration{Text: text},
				}, nil) {
					stopped = true
					return errStopIteration
				}
				return nil
			}),
		}
		if req.WithTools && len(d.toolRefs) > 0 {
			opts = append(opts, ai.WithTools(d.toolRefs...), ai.WithReturnToolRequests(true))
		}

		resp, err := genkit.Generate(ctx, d.g, opts...)
		if stopped {
			return
		}
		if err != nil {
			yield(nil, fmt.Errorf("generating response: %w", err))
			return
		}

		if calls := toolCallsFromResponse(resp); len(calls) > 0 {
			// The model wants tools; the turn continues after they run,
			// so no terminal event yet.
			yield(&stream.Event{
				Type:      stream.EventToolCalls,
				ToolCalls: &stream.ToolCallsGeneration{Text: resp.Text(), ToolCalls: calls},
			}, nil)
			return
		}

		d.logger.Debug("model turn finished",
			"generation_id", generationID,
			"finish_reason", resp.FinishReason)

		yield(&stream.Event{
			Type: stream.EventStreamEnd,
			End:  &stream.StreamEnd{FinishReason: finishReason(resp.FinishReason)},
		}, nil)
	}
}

func toolCallsFromResponse(resp *ai.ModelResponse) []collate.ToolCall {
	if resp == nil || resp.Message == nil {
		return nil
	}
	var calls []collate.ToolCall
	for _, part := range resp.Message.Content {
		if part.ToolRequest == nil {
			continue
		}
		params, _ := part.ToolRequest.Input.(map[string]any)
		calls = append(calls, collate.ToolCall{
			Name:       part.ToolRequest.Name,
			Parameters: params,
		})
	}
	return calls
}
