package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pausingSpace stalls the first take of the name list until released,
// holding the join between its get and its put.
type pausingSpace struct {
	tuplespace.Space

	taken   chan struct{}
	release chan struct{}
	once    sync.Once
}

func newPausingSpace(sp tuplespace.Space) *pausingSpace {
	return &pausingSpace{Space: sp, taken: make(chan struct{}), release: make(chan struct{})}
}

func (p *pausingSpace) GetP(ctx context.Context, pat tuplespace.Pattern) (tuplespace.Tuple, bool, error) {
	t, ok, err := p.Space.GetP(ctx, pat)
	if pat.String() == namesPattern.String() {
		p.once.Do(func() {
			close(p.taken)
			<-p.release
		})
	}
	return t, ok, err
}

func nameLists(t *testing.T, sp tuplespace.Space) [][]string {
	t.Helper()
	ts, err := sp.QueryAll(context.Background(), namesPattern)
	require.NoError(t, err)
	out := make([][]string, 0, len(ts))
	for _, tu := range ts {
		out = append(out, tu.Strings(1))
	}
	return out
}

func TestRosterJoinLeave(t *testing.T) {
	ctx := context.Background()

	for _, hardened := range []bool{false, true} {
		r := NewRoster(newRoom(t), WithHardenedRoster(hardened))
		assert.Equal(t, hardened, r.Hardened())

		names, err := r.Names(ctx)
		require.NoError(t, err)
		assert.Nil(t, names)

		require.NoError(t, r.Join(ctx, "alice", 1))
		require.NoError(t, r.Join(ctx, "bob", 2))
		require.NoError(t, r.Join(ctx, "carol", 3))

		names, err = r.Names(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob", "carol"}, names)

		require.NoError(t, r.Leave(ctx, "bob"))

		names, err = r.Names(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "carol"}, names)
		ids, err := r.IDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, ids)

		// Leaving twice keeps the lists intact.
		require.NoError(t, r.Leave(ctx, "bob"))
		names, err = r.Names(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "carol"}, names)
	}
}

func TestRosterLeaveWaitsForList(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := NewRoster(newRoom(t))
	err := r.Leave(ctx, "alice")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRosterConcurrentJoin(t *testing.T) {
	ctx := context.Background()

	// Player A takes the list and stalls; player B joins in the gap.
	race := func(t *testing.T, hardened bool) tuplespace.Space {
		room := newRoom(t)
		require.NoError(t, NewRoster(room, WithHardenedRoster(hardened)).Join(ctx, "host", 1))

		paused := newPausingSpace(room)
		a := NewRoster(paused, WithHardenedRoster(hardened))
		b := NewRoster(room, WithHardenedRoster(hardened))

		aDone := make(chan error, 1)
		go func() { aDone <- a.Join(ctx, "a", 2) }()
		<-paused.taken

		bDone := make(chan error, 1)
		go func() { bDone <- b.Join(ctx, "b", 3) }()

		if !hardened {
			require.NoError(t, <-bDone)
		} else {
			select {
			case err := <-bDone:
				t.Fatalf("join finished while the roster lock was held: %v", err)
			case <-time.After(50 * time.Millisecond):
			}
		}

		close(paused.release)
		require.NoError(t, <-aDone)
		if hardened {
			require.NoError(t, <-bDone)
		}
		return room
	}

	t.Run("unguarded updates diverge", func(t *testing.T) {
		room := race(t, false)

		lists := nameLists(t, room)
		assert.Len(t, lists, 2)
		for _, names := range lists {
			assert.Less(t, len(names), 3, "no list holds every player: %v", names)
		}
	})

	t.Run("hardened updates serialize", func(t *testing.T) {
		room := race(t, true)

		lists := nameLists(t, room)
		require.Len(t, lists, 1)
		assert.ElementsMatch(t, []string{"host", "a", "b"}, lists[0])

		ids, err := room.QueryAll(ctx, idsPattern)
		require.NoError(t, err)
		require.Len(t, ids, 1)
		assert.ElementsMatch(t, []int64{1, 2, 3}, ids[0].Ints(1))
	})
}

type failingPuts struct {
	tuplespace.Space
	label string
}

func (f failingPuts) Put(ctx context.Context, t tuplespace.Tuple) error {
	if t.Str(0) == f.label {
		return errors.New("write refused")
	}
	return f.Space.Put(ctx, t)
}

func TestRosterLockReleasedOnFailure(t *testing.T) {
	ctx := context.Background()
	room := newRoom(t)
	r := NewRoster(failingPuts{Space: room, label: LabelPlayerNameList}, WithHardenedRoster(true))

	assert.Error(t, r.Join(ctx, "alice", 1))

	_, ok, err := room.QueryP(ctx, lockPattern)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRosterLockWait(t *testing.T) {
	room := newRoom(t)
	_, err := room.Get(context.Background(), lockPattern)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = NewRoster(room, WithHardenedRoster(true)).Join(ctx, "alice", 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	names, err := NewRoster(room).Names(context.Background())
	require.NoError(t, err)
	assert.Nil(t, names)
}
