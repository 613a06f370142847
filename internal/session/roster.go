package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dyluth/arena/pkg/tuplespace"
)

var (
	namesPattern = tuplespace.Match(LabelPlayerNameList, tuplespace.KindStrings)
	idsPattern   = tuplespace.Match(LabelPlayerIDList, tuplespace.KindInts)
	lockPattern  = tuplespace.Match(LabelRosterLock)
	lockTuple    = tuplespace.NewTuple(tuplespace.String(LabelRosterLock))
)

// Roster maintains the aggregate ("playerNameList", names) and
// ("playerIdList", ids) tuples of a room.
//
// Join and Leave are get, modify, put sequences over two separate calls. In
// the default mode two players updating at the same time can overwrite each
// other's change. A hardened roster wraps each update in the room's
// ("rosterLock") tuple so updates are serialized; it needs a room created
// by CreateRoom.
type Roster struct {
	space    tuplespace.Space
	hardened bool
	logger   *slog.Logger
}

// RosterOption configures a Roster.
type RosterOption func(*Roster)

// WithHardenedRoster serializes updates under the roster lock tuple.
func WithHardenedRoster(hardened bool) RosterOption {
	return func(r *Roster) {
		r.hardened = hardened
	}
}

// WithRosterLog specifies which slog.Handler to use.
func WithRosterLog(handler slog.Handler) RosterOption {
	return func(r *Roster) {
		r.logger = slog.New(handler).With(slog.String("component", "roster"))
	}
}

// NewRoster returns a roster over the room space sp.
func NewRoster(sp tuplespace.Space, opts ...RosterOption) *Roster {
	r := &Roster{
		space:  sp,
		logger: slog.Default().With(slog.String("component", "roster")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hardened reports whether updates run under the roster lock.
func (r *Roster) Hardened() bool {
	return r.hardened
}

// Join appends name and id to the aggregate lists. A missing list starts
// empty.
func (r *Roster) Join(ctx context.Context, name string, id int64) error {
	return r.update(ctx, func() error {
		names, err := r.takeNames(ctx, false)
		if err != nil {
			return err
		}
		names = append(names, name)
		if err := r.space.Put(ctx, tuplespace.NewTuple(tuplespace.String(LabelPlayerNameList), tuplespace.Strings(names...))); err != nil {
			return fmt.Errorf("failed to write player names: %w", err)
		}

		ids, err := r.takeIDs(ctx)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		if err := r.space.Put(ctx, tuplespace.NewTuple(tuplespace.String(LabelPlayerIDList), tuplespace.Ints(ids...))); err != nil {
			return fmt.Errorf("failed to write player ids: %w", err)
		}

		r.logger.Debug("player joined", slog.String("name", name), slog.Int64("id", id), slog.Int("players", len(names)))
		return nil
	})
}

// Leave removes name, and the id at the same position, from the aggregate
// lists. It waits for the name list to exist.
func (r *Roster) Leave(ctx context.Context, name string) error {
	return r.update(ctx, func() error {
		names, err := r.takeNames(ctx, true)
		if err != nil {
			return err
		}
		idx := slices.Index(names, name)
		if idx >= 0 {
			names = slices.Delete(names, idx, idx+1)
		}
		if err := r.space.Put(ctx, tuplespace.NewTuple(tuplespace.String(LabelPlayerNameList), tuplespace.Strings(names...))); err != nil {
			return fmt.Errorf("failed to write player names: %w", err)
		}
		if idx < 0 {
			r.logger.Warn("leaving player not on roster", slog.String("name", name))
			return nil
		}

		ids, err := r.takeIDs(ctx)
		if err != nil {
			return err
		}
		if idx < len(ids) {
			ids = slices.Delete(ids, idx, idx+1)
		}
		if err := r.space.Put(ctx, tuplespace.NewTuple(tuplespace.String(LabelPlayerIDList), tuplespace.Ints(ids...))); err != nil {
			return fmt.Errorf("failed to write player ids: %w", err)
		}

		r.logger.Debug("player left", slog.String("name", name), slog.Int("players", len(names)))
		return nil
	})
}

// Names returns the current player names, or nil when nobody has joined.
func (r *Roster) Names(ctx context.Context) ([]string, error) {
	t, ok, err := r.space.QueryP(ctx, namesPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to read player names: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return t.Strings(1), nil
}

// IDs returns the current player ids, or nil when nobody has joined.
func (r *Roster) IDs(ctx context.Context) ([]int64, error) {
	t, ok, err := r.space.QueryP(ctx, idsPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to read player ids: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return t.Ints(1), nil
}

func (r *Roster) update(ctx context.Context, fn func() error) error {
	if !r.hardened {
		return fn()
	}

	if _, err := r.space.Get(ctx, lockPattern); err != nil {
		return fmt.Errorf("failed to acquire roster lock: %w", err)
	}
	err := fn()
	// The lock goes back even when ctx has ended so other players can proceed.
	if perr := r.space.Put(context.WithoutCancel(ctx), lockTuple); perr != nil {
		r.logger.Error("failed to release roster lock", slog.Any("error", perr))
		if err == nil {
			err = fmt.Errorf("failed to release roster lock: %w", perr)
		}
	}
	return err
}

func (r *Roster) takeNames(ctx context.Context, wait bool) ([]string, error) {
	if wait {
		t, err := r.space.Get(ctx, namesPattern)
		if err != nil {
			return nil, fmt.Errorf("failed to take player names: %w", err)
		}
		return t.Strings(1), nil
	}
	t, ok, err := r.space.GetP(ctx, namesPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to take player names: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return t.Strings(1), nil
}

func (r *Roster) takeIDs(ctx context.Context) ([]int64, error) {
	t, ok, err := r.space.GetP(ctx, idsPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to take player ids: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return t.Ints(1), nil
}
