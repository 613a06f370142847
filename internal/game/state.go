// Package game holds the arena game state that is handed from the host to
// joining players as one opaque blob, plus the tractor movement rules every
// player applies locally.
package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Window size of the playing field in pixels.
const (
	FieldWidth  = 960
	FieldHeight = 540
)

// Tractor is one player's vehicle.
type Tractor struct {
	PlayerID int64  `msgpack:"id"`
	Name     string `msgpack:"name"`
	Pose     Pose   `msgpack:"pose"`
}

// State is the full shared game state.
type State struct {
	Seed      int64     `msgpack:"seed"`
	Grid      Grid      `msgpack:"grid"`
	Tractors  []Tractor `msgpack:"tractors"`
	CreatedAt time.Time `msgpack:"created_at"`
}

// NewState builds a fresh game on a generated maze. Tractors are spawned
// later with AddTractor.
func NewState(cols, rows int, seed int64) (*State, error) {
	grid, err := NewGrid(cols, rows, seed)
	if err != nil {
		return nil, err
	}
	return &State{
		Seed:      seed,
		Grid:      *grid,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Validate checks the state is internally consistent.
func (s *State) Validate() error {
	if err := s.Grid.Validate(); err != nil {
		return fmt.Errorf("invalid grid: %w", err)
	}
	seen := make(map[int64]bool, len(s.Tractors))
	for _, t := range s.Tractors {
		if t.PlayerID <= 0 {
			return fmt.Errorf("tractor %q has non-positive player id %d", t.Name, t.PlayerID)
		}
		if seen[t.PlayerID] {
			return fmt.Errorf("duplicate tractor for player %d", t.PlayerID)
		}
		seen[t.PlayerID] = true
	}
	return nil
}

// AddTractor spawns a tractor for player id in the centre of a cell chosen
// from the id, so every peer computes the same spawn point.
func (s *State) AddTractor(id int64, name string) (Tractor, error) {
	if id <= 0 {
		return Tractor{}, fmt.Errorf("player id must be positive, got %d", id)
	}
	for _, t := range s.Tractors {
		if t.PlayerID == id {
			return Tractor{}, fmt.Errorf("player %d already has a tractor", id)
		}
	}

	cells := s.Grid.Cols * s.Grid.Rows
	cell := int((id*7919 + s.Seed) % int64(cells))
	if cell < 0 {
		cell += cells
	}
	x, y := s.Grid.CellCentre(cell%s.Grid.Cols, cell/s.Grid.Cols)

	t := Tractor{PlayerID: id, Name: name, Pose: Pose{X: x, Y: y}}
	s.Tractors = append(s.Tractors, t)
	return t, nil
}

// Tractor returns the tractor of player id.
func (s *State) Tractor(id int64) (Tractor, bool) {
	for _, t := range s.Tractors {
		if t.PlayerID == id {
			return t, true
		}
	}
	return Tractor{}, false
}

// Encode serializes the state into the handoff blob.
func Encode(s *State) ([]byte, error) {
	if s == nil {
		return nil, errors.New("cannot encode nil game state")
	}
	b, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode game state: %w", err)
	}
	return b, nil
}

// Decode parses and validates a handoff blob.
func Decode(b []byte) (*State, error) {
	var s State
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to decode game state: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// EncodePose serializes one tractor pose for a movement broadcast.
func EncodePose(p Pose) ([]byte, error) {
	b, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pose: %w", err)
	}
	return b, nil
}

// DecodePose parses a movement broadcast payload.
func DecodePose(b []byte) (Pose, error) {
	var p Pose
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return Pose{}, fmt.Errorf("failed to decode pose: %w", err)
	}
	return p, nil
}
