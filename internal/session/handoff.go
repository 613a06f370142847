package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/arena/internal/game"
	"github.com/dyluth/arena/pkg/tuplespace"
)

// ErrGameExists is returned when the lobby already holds a game.
var ErrGameExists = errors.New("session: game already published")

var gamePattern = tuplespace.Match(LabelGame, tuplespace.KindBlob)

// PublishGame writes the ("game", blob) handoff tuple. A lobby holds at
// most one game.
func PublishGame(ctx context.Context, lobby tuplespace.Space, s *game.State) error {
	if _, ok, err := lobby.QueryP(ctx, gamePattern); err != nil {
		return fmt.Errorf("failed to check lobby for a game: %w", err)
	} else if ok {
		return ErrGameExists
	}

	blob, err := game.Encode(s)
	if err != nil {
		return err
	}
	if err := lobby.Put(ctx, tuplespace.NewTuple(tuplespace.String(LabelGame), tuplespace.Blob(blob))); err != nil {
		return fmt.Errorf("failed to publish game: %w", err)
	}
	return nil
}

// FetchGame waits for the handoff tuple and decodes it without removing it.
func FetchGame(ctx context.Context, lobby tuplespace.Space) (*game.State, error) {
	t, err := lobby.Query(ctx, gamePattern)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch game: %w", err)
	}
	return game.Decode(t.Blob(1))
}
