package remote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dyluth/arena/internal/wire"
	"github.com/dyluth/arena/pkg/tuplespace"
)

// watchBuffer is the channel capacity for a remote watch.
const watchBuffer = 64

// Watch opens a second connection to the same space and streams every tuple
// put from now on that matches p. The channel is closed when ctx ends, the
// space shuts down or the connection fails. Deliveries are best effort.
func (c *Client) Watch(ctx context.Context, p tuplespace.Pattern) (<-chan tuplespace.Tuple, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if c.closed.Load() {
		return nil, ErrClosed
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	req := wire.Request{ID: 1, Op: wire.OpWatch, Pattern: wire.EncodePattern(p)}
	if err := conn.Send(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %s: %w", tuplespace.ErrRemoteFailure, wire.OpWatch, err)
	}
	var ack wire.Response
	if err := conn.Receive(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %s: %w", tuplespace.ErrRemoteFailure, wire.OpWatch, err)
	}
	if err := ack.Err(); err != nil {
		conn.Close()
		return nil, err
	}

	out := make(chan tuplespace.Tuple, watchBuffer)
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	go func() {
		defer close(out)
		defer stop()
		defer conn.Close()

		for {
			var ev wire.Response
			if err := conn.Receive(&ev); err != nil {
				if ctx.Err() == nil {
					c.logger.Debug("watch stream ended", slog.Any("error", err))
				}
				return
			}
			if ev.Status != wire.StatusEvent {
				if err := ev.Err(); err != nil {
					c.logger.Debug("watch closed by registry", slog.Any("error", err))
				}
				return
			}
			ts, err := wire.DecodeTuples(ev.Tuples)
			if err != nil {
				c.logger.Warn("dropping malformed watch event", slog.Any("error", err))
				continue
			}
			for _, t := range ts {
				select {
				case out <- t:
				default:
					c.logger.Debug("watch consumer behind, dropping event", slog.String("tuple", t.String()))
				}
			}
		}
	}()

	return out, nil
}
