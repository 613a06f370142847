package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dyluth/arena/internal/game"
	"github.com/dyluth/arena/pkg/tuplespace"
	"golang.org/x/time/rate"
)

// DefaultBroadcastInterval is the minimum gap between two broadcasts.
const DefaultBroadcastInterval = 25 * time.Millisecond

// publish timeout for one fire-and-forget broadcast
const publishTimeout = 2 * time.Second

// Broadcaster replicates the local tractor pose as a ("state", id, blob)
// tuple. Broadcasts are throttled and sent in the background; nothing
// confirms that peers saw them.
type Broadcaster struct {
	space    tuplespace.Space
	playerID int64
	gate     *rate.Sometimes
	logger   *slog.Logger

	// serializes publishes so each player has at most one state tuple
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewBroadcaster creates a broadcaster for player id. A non-positive
// interval selects DefaultBroadcastInterval.
func NewBroadcaster(sp tuplespace.Space, id int64, interval time.Duration, handler slog.Handler) *Broadcaster {
	if interval <= 0 {
		interval = DefaultBroadcastInterval
	}
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &Broadcaster{
		space:    sp,
		playerID: id,
		gate:     &rate.Sometimes{Interval: interval},
		logger:   slog.New(handler).With(slog.String("component", "broadcaster"), slog.Int64("player", id)),
	}
}

// Trigger dispatches a background publish of p unless one was dispatched
// within the interval. It never blocks on the network and reports whether
// a publish was dispatched.
func (b *Broadcaster) Trigger(p game.Pose) bool {
	dispatched := false
	b.gate.Do(func() {
		dispatched = true
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := b.Publish(ctx, p); err != nil {
				b.logger.Debug("broadcast dropped", slog.Any("error", err))
			}
		}()
	})
	return dispatched
}

// Publish replaces this player's state tuple with p.
func (b *Broadcaster) Publish(ctx context.Context, p game.Pose) error {
	blob, err := game.EncodePose(p)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	own := tuplespace.NewPattern(
		tuplespace.Actual(tuplespace.String(LabelState)),
		tuplespace.Actual(tuplespace.Int(b.playerID)),
		tuplespace.Formal(tuplespace.KindBlob),
	)
	if _, _, err := b.space.GetP(ctx, own); err != nil {
		return fmt.Errorf("failed to clear previous state: %w", err)
	}
	if err := b.space.Put(ctx, tuplespace.NewTuple(tuplespace.String(LabelState), tuplespace.Int(b.playerID), tuplespace.Blob(blob))); err != nil {
		return fmt.Errorf("failed to publish state: %w", err)
	}
	return nil
}

// Wait blocks until every dispatched publish has finished.
func (b *Broadcaster) Wait() {
	b.wg.Wait()
}

// Peers returns the last broadcast pose of every player, keyed by id.
func Peers(ctx context.Context, sp tuplespace.Space) (map[int64]game.Pose, error) {
	ts, err := sp.QueryAll(ctx, tuplespace.Match(LabelState, tuplespace.KindInt, tuplespace.KindBlob))
	if err != nil {
		return nil, fmt.Errorf("failed to read peer states: %w", err)
	}
	out := make(map[int64]game.Pose, len(ts))
	for _, t := range ts {
		p, err := game.DecodePose(t.Blob(2))
		if err != nil {
			continue
		}
		out[t.Int(1)] = p
	}
	return out, nil
}
