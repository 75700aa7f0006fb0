package stream

import (
	"context"

	"github.com/kirikou/kirikou/internal/models"
)

// Fragment is one piece of answer text. A fragment with Err set is terminal.
type Fragment struct {
	Text string
	Err  error
}

// Filter reduces an execution event stream to the model's answer tokens.
// Every op of every chunk is inspected, in order. A producer error is
// forwarded as the last fragment. The returned channel is unbuffered and
// closes when src closes or ctx is cancelled.
func Filter(ctx context.Context, decoder *Decoder, src <-chan models.LogChunk) <-chan Fragment {
	out := make(chan Fragment)

	go func() {
		defer close(out)

		send := func(f Fragment) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			var chunk models.LogChunk
			var ok bool
			select {
			case chunk, ok = <-src:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}

			if chunk.Err != nil {
				send(Fragment{Err: chunk.Err})
				return
			}

			for _, op := range chunk.Ops {
				if tok, isToken := decoder.Decode(op).(ModelToken); isToken {
					if !send(Fragment{Text: tok.Text}) {
						return
					}
				}
			}
		}
	}()

	return out
}
