package session

import (
	"context"
	"testing"
	"time"

	"github.com/dyluth/arena/internal/game"
	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandoff(t *testing.T) {
	ctx := context.Background()
	lobby := tuplespace.NewSpace()
	t.Cleanup(lobby.Shutdown)

	state, err := game.NewState(6, 4, 7)
	require.NoError(t, err)
	_, err = state.AddTractor(HostPlayerID, "alice")
	require.NoError(t, err)

	fetched := make(chan *game.State, 1)
	go func() {
		s, err := FetchGame(ctx, lobby)
		assert.NoError(t, err)
		fetched <- s
	}()

	require.NoError(t, PublishGame(ctx, lobby, state))
	assert.ErrorIs(t, PublishGame(ctx, lobby, state), ErrGameExists)

	select {
	case got := <-fetched:
		require.NotNil(t, got)
		assert.Equal(t, state.Grid, got.Grid)
		assert.Equal(t, state.Tractors, got.Tractors)
	case <-time.After(2 * time.Second):
		t.Fatal("game never fetched")
	}

	// Fetching leaves the game for later players.
	again, err := FetchGame(ctx, lobby)
	require.NoError(t, err)
	assert.Equal(t, state.Seed, again.Seed)
}

func TestFetchGameRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	lobby := tuplespace.NewSpace()
	t.Cleanup(lobby.Shutdown)

	require.NoError(t, lobby.Put(ctx, tuplespace.NewTuple(tuplespace.String(LabelGame), tuplespace.Blob([]byte("not a game")))))
	_, err := FetchGame(ctx, lobby)
	assert.Error(t, err)
}

func TestBroadcasterThrottle(t *testing.T) {
	ctx := context.Background()
	lobby := tuplespace.NewSpace()
	t.Cleanup(lobby.Shutdown)

	bc := NewBroadcaster(lobby, 2, 50*time.Millisecond, nil)

	assert.True(t, bc.Trigger(game.Pose{X: 1, Y: 1}))
	assert.False(t, bc.Trigger(game.Pose{X: 2, Y: 2}), "second trigger inside the interval")
	bc.Wait()

	peers, err := Peers(ctx, lobby)
	require.NoError(t, err)
	assert.Equal(t, map[int64]game.Pose{2: {X: 1, Y: 1}}, peers)

	time.Sleep(60 * time.Millisecond)
	assert.True(t, bc.Trigger(game.Pose{X: 3, Y: 3, Rotation: 90}))
	bc.Wait()

	peers, err = Peers(ctx, lobby)
	require.NoError(t, err)
	assert.Equal(t, map[int64]game.Pose{2: {X: 3, Y: 3, Rotation: 90}}, peers)
}

func TestBroadcasterKeepsOneStatePerPlayer(t *testing.T) {
	ctx := context.Background()
	lobby := tuplespace.NewSpace()
	t.Cleanup(lobby.Shutdown)

	a := NewBroadcaster(lobby, 1, 0, nil)
	b := NewBroadcaster(lobby, 2, 0, nil)
	for i := range 5 {
		require.NoError(t, a.Publish(ctx, game.Pose{X: float64(i)}))
		require.NoError(t, b.Publish(ctx, game.Pose{Y: float64(i)}))
	}

	states, err := lobby.QueryAll(ctx, tuplespace.Match(LabelState, tuplespace.KindInt, tuplespace.KindBlob))
	require.NoError(t, err)
	assert.Len(t, states, 2)

	peers, err := Peers(ctx, lobby)
	require.NoError(t, err)
	assert.Equal(t, game.Pose{X: 4}, peers[1])
	assert.Equal(t, game.Pose{Y: 4}, peers[2])
}

type wallFunc func(game.Pose) bool

func (f wallFunc) Collides(p game.Pose) bool { return f(p) }

func TestController(t *testing.T) {
	ctx := context.Background()
	lobby := tuplespace.NewSpace()
	t.Cleanup(lobby.Shutdown)

	// A wall at x >= 102 to the right of the start.
	walls := wallFunc(func(p game.Pose) bool { return p.X >= 102 })
	bc := NewBroadcaster(lobby, 3, time.Nanosecond, nil)
	c := NewController(game.Pose{X: 100, Y: 100}, walls, bc)
	bc.Wait()

	peers, err := Peers(ctx, lobby)
	require.NoError(t, err)
	assert.Equal(t, game.Pose{X: 100, Y: 100}, peers[3], "start pose is broadcast")

	assert.True(t, c.Move(true))
	assert.InDelta(t, 100+game.MovementSpeed, c.Pose().X, 1e-9)

	blocked := c.Pose()
	assert.False(t, c.Move(true), "second step reaches the wall")
	assert.Equal(t, blocked, c.Pose())

	assert.True(t, c.Move(false))
	assert.True(t, c.Rotate(true))
	assert.InDelta(t, game.RotationSpeed, c.Pose().Rotation, 1e-9)

	bc.Wait()
	time.Sleep(5 * time.Millisecond)
	c.Rotate(false)
	bc.Wait()

	peers, err = Peers(ctx, lobby)
	require.NoError(t, err)
	assert.Equal(t, c.Pose(), peers[3])
}
