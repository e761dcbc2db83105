package deployment

import (
	"context"
	"iter"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/stream"
)

// Echo is a deterministic backend that repeats the last user message. It
// exists for local development without model credentials and for exercising
// the streaming path in tests.
type Echo struct {
	// ChunkWords controls how many words go into each text delta.
	// Zero means one word per delta.
	ChunkWords int
}

// Chat streams the last user message back word by word.
func (d *Echo) Chat(ctx context.Context, req Request) iter.Seq2[*stream.Event, error] {
	return func(yield func(*stream.Event, error) bool) {
		if !yield(&stream.Event{
			Type:  stream.EventStreamStart,
			Start: &stream.StreamStart{GenerationID: uuid.NewString()},
		}, nil) {
			return
		}

		words := strings.Fields(lastUserText(req.Messages))
		per := d.ChunkWords
		if per <= 0 {
			per = 1
		}
		for i := 0; i < len(words); i += per {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			end := min(i+per, len(words))
			delta := strings.Join(words[i:end], " ")
			if i > 0 {
				delta = " " + delta
			}
			if !yield(&stream.Event{
				Type: stream.EventTextGeneration,
				Text: &stream.TextGeneration{Text: delta},
			}, nil) {
				return
			}
		}

		yield(&stream.Event{
			Type: stream.EventStreamEnd,
			End:  &stream.StreamEnd{FinishReason: FinishComplete},
		}, nil)
	}
}

func lastUserText(messages []*ai.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i] == nil || messages[i].Role != ai.RoleUser {
			continue
		}
		var b strings.Builder
		for _, part := range messages[i].Content {
			if part.IsText() {
				b.WriteString(part.Text)
			}
		}
		return b.String()
	}
	return ""
}
