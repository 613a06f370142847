// Package session implements the arena's coordination protocols on top of
// tuple spaces: host election, the room descriptor and roster, the lobby
// game handoff and movement broadcasts.
//
// Every protocol is a sequence of space operations and works the same
// against a local space or a remote client.
package session

import (
	"context"
	"fmt"

	"github.com/dyluth/arena/pkg/tuplespace"
)

// Tuple labels shared by every peer.
const (
	LabelTurn           = "turn"
	LabelPlayers        = "players"
	LabelReaders        = "readers"
	LabelClientIP       = "clientIp"
	LabelName           = "name"
	LabelClientURI      = "clientUri"
	LabelHostName       = "host name"
	LabelPlayerNameList = "playerNameList"
	LabelPlayerIDList   = "playerIdList"
	LabelRosterLock     = "rosterLock"
	LabelGame           = "game"
	LabelState          = "state"
)

// Space names.
const (
	RoomSpace  = "room"
	LobbySpace = "lobby"
)

// HostPlayerID is the id of the room's creator.
const HostPlayerID = 1

// Descriptor is the room metadata written once by the creator.
type Descriptor struct {
	HostName  string
	HostIP    string
	ClientURI string
}

// CreateRoom writes the room descriptor, the counters and the roster lock
// into a fresh room space.
func CreateRoom(ctx context.Context, sp tuplespace.Space, d Descriptor) error {
	tuples := []tuplespace.Tuple{
		tuplespace.NewTuple(tuplespace.String(LabelTurn), tuplespace.Int(1)),
		tuplespace.NewTuple(tuplespace.String(LabelPlayers), tuplespace.Int(HostPlayerID)),
		tuplespace.NewTuple(tuplespace.String(LabelReaders), tuplespace.Int(0)),
		tuplespace.NewTuple(tuplespace.String(LabelClientIP), tuplespace.String(d.HostIP)),
		tuplespace.NewTuple(tuplespace.String(d.HostName), tuplespace.String(d.HostIP)),
		tuplespace.NewTuple(tuplespace.String(LabelClientURI), tuplespace.String(d.ClientURI)),
		tuplespace.NewTuple(tuplespace.String(LabelHostName), tuplespace.String(d.HostName)),
		tuplespace.NewTuple(tuplespace.String(LabelRosterLock)),
	}
	for _, t := range tuples {
		if err := sp.Put(ctx, t); err != nil {
			return fmt.Errorf("failed to write room descriptor %s: %w", t, err)
		}
	}
	return nil
}

// ReadDescriptor waits for the room descriptor and returns it.
func ReadDescriptor(ctx context.Context, sp tuplespace.Space) (Descriptor, error) {
	uri, err := sp.Query(ctx, tuplespace.Match(LabelClientURI, tuplespace.KindString))
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to read client uri: %w", err)
	}
	host, err := sp.Query(ctx, tuplespace.Match(LabelHostName, tuplespace.KindString))
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to read host name: %w", err)
	}
	ip, err := sp.Query(ctx, tuplespace.Match(LabelClientIP, tuplespace.KindString))
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to read host ip: %w", err)
	}
	return Descriptor{HostName: host.Str(1), HostIP: ip.Str(1), ClientURI: uri.Str(1)}, nil
}

// Announce publishes a player's name for the room to pick up.
func Announce(ctx context.Context, sp tuplespace.Space, name string) error {
	if err := sp.Put(ctx, tuplespace.NewTuple(tuplespace.String(LabelName), tuplespace.String(name))); err != nil {
		return fmt.Errorf("failed to announce %q: %w", name, err)
	}
	return nil
}

// TakeAnnouncement consumes the announcement of name.
func TakeAnnouncement(ctx context.Context, sp tuplespace.Space, name string) error {
	p := tuplespace.NewPattern(tuplespace.Actual(tuplespace.String(LabelName)), tuplespace.Actual(tuplespace.String(name)))
	if _, err := sp.Get(ctx, p); err != nil {
		return fmt.Errorf("failed to take announcement of %q: %w", name, err)
	}
	return nil
}

// AssignPlayerID takes the next id from the ("players", n) counter.
func AssignPlayerID(ctx context.Context, sp tuplespace.Space) (int64, error) {
	t, err := sp.Get(ctx, tuplespace.Match(LabelPlayers, tuplespace.KindInt))
	if err != nil {
		return 0, fmt.Errorf("failed to take player counter: %w", err)
	}
	id := t.Int(1) + 1
	if err := sp.Put(ctx, tuplespace.NewTuple(tuplespace.String(LabelPlayers), tuplespace.Int(id))); err != nil {
		return 0, fmt.Errorf("failed to restore player counter: %w", err)
	}
	return id, nil
}

// AcquireTurn takes the turn register and returns whose turn it is. The
// register stays absent until ReleaseTurn.
func AcquireTurn(ctx context.Context, sp tuplespace.Space) (int64, error) {
	t, err := sp.Get(ctx, tuplespace.Match(LabelTurn, tuplespace.KindInt))
	if err != nil {
		return 0, fmt.Errorf("failed to acquire turn: %w", err)
	}
	return t.Int(1), nil
}

// ReleaseTurn hands the turn register to next.
func ReleaseTurn(ctx context.Context, sp tuplespace.Space, next int64) error {
	if err := sp.Put(ctx, tuplespace.NewTuple(tuplespace.String(LabelTurn), tuplespace.Int(next))); err != nil {
		return fmt.Errorf("failed to release turn: %w", err)
	}
	return nil
}
