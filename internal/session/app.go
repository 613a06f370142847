package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dyluth/arena/internal/game"
	"github.com/dyluth/arena/internal/registry"
	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/dyluth/arena/pkg/tuplespace/remote"
)

// Maze size of a launched game.
const (
	DefaultGridCols = 12
	DefaultGridRows = 7
)

// RetryPolicy bounds how often a remote dial is attempted.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

// Config holds everything an App needs to host or join.
type Config struct {
	PlayerName string

	// HostAddress is the agreed address of the hosting machine.
	HostAddress string
	// ListenAddress is the interface the host's gate binds. Empty uses
	// HostAddress.
	ListenAddress string
	Port          int
	ProbeAddress  string

	BroadcastInterval time.Duration
	HardenedRoster    bool
	ListenMode        ListenMode
	PollInterval      time.Duration
	Retry             RetryPolicy
}

// App ties the protocols together for one player: it hosts or joins a room
// and launches or fetches the game.
type App struct {
	cfg          Config
	elector      *Elector
	handler      slog.Handler
	logger       *slog.Logger
	registryOpts []registry.Option

	mu      sync.Mutex
	reg     *registry.Registry
	gate    *registry.Gate
	lobby   *tuplespace.LocalSpace
	clients []*remote.Client
}

// AppOption configures an App.
type AppOption func(*App)

// WithElector replaces the elector built from Config.
func WithElector(e *Elector) AppOption {
	return func(a *App) {
		a.elector = e
	}
}

// WithRegistryOptions is passed to the registry the App creates when it
// hosts.
func WithRegistryOptions(opts ...registry.Option) AppOption {
	return func(a *App) {
		a.registryOpts = append(a.registryOpts, opts...)
	}
}

// WithLog specifies which slog.Handler to use.
func WithLog(handler slog.Handler) AppOption {
	return func(a *App) {
		a.handler = handler
	}
}

// NewApp validates cfg and builds an App.
func NewApp(cfg Config, opts ...AppOption) (*App, error) {
	if cfg.PlayerName == "" {
		return nil, errors.New("player name is required")
	}
	if cfg.HostAddress == "" {
		return nil, errors.New("host address is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = 200 * time.Millisecond
	}

	a := &App{
		cfg:     cfg,
		handler: slog.Default().Handler(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.elector == nil {
		a.elector = NewElector(cfg.HostAddress, cfg.ProbeAddress)
	}
	a.logger = slog.New(a.handler).With(slog.String("component", "app"), slog.String("player", cfg.PlayerName))
	return a, nil
}

// IsHost runs host election.
func (a *App) IsHost() (bool, error) {
	return a.elector.IsHost()
}

// Port returns the port peers dial: the bound gate port once hosting,
// otherwise the configured one.
func (a *App) Port() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gate != nil {
		return a.gate.Port()
	}
	return a.cfg.Port
}

// Registry returns the hosted registry, or nil when not hosting.
func (a *App) Registry() *registry.Registry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reg
}

func (a *App) ensureRegistry() (*registry.Registry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reg != nil {
		return a.reg, nil
	}

	opts := append([]registry.Option{registry.WithLog(a.handler)}, a.registryOpts...)
	reg, err := registry.New(opts...)
	if err != nil {
		return nil, err
	}

	listen := a.cfg.ListenAddress
	if listen == "" {
		listen = a.cfg.HostAddress
	}
	// The lobby is served empty from the start so that a client launching
	// before the host waits for the game instead of failing to dial.
	lobby := tuplespace.NewSpace()
	if err := reg.AddSpace(LobbySpace, lobby); err != nil {
		reg.Shutdown(context.Background())
		return nil, err
	}
	gate, err := reg.AddGate(tuplespace.GateURI(listen, a.cfg.Port))
	if err != nil {
		reg.Shutdown(context.Background())
		return nil, err
	}

	a.reg, a.gate, a.lobby = reg, gate, lobby
	return reg, nil
}

func (a *App) dial(ctx context.Context, uri string) (*remote.Client, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = a.cfg.Retry.InitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(a.cfg.Retry.MaxAttempts-1)), ctx)

	var client *remote.Client
	operation := func() error {
		c, err := remote.Dial(ctx, uri, remote.WithLog(a.handler))
		if err != nil {
			if errors.Is(err, tuplespace.ErrUnknownSpace) || errors.Is(err, tuplespace.ErrInvalidURI) {
				return backoff.Permanent(err)
			}
			return err
		}
		client = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		a.logger.Warn("dial failed, retrying", slog.String("uri", uri), slog.Duration("backoff", next), slog.Any("error", err))
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.clients = append(a.clients, client)
	a.mu.Unlock()
	return client, nil
}

// Room is a player's membership of a room.
type Room struct {
	Space      tuplespace.Space
	Descriptor Descriptor
	Name       string
	PlayerID   int64
	Roster     *Roster

	stopListener func() error
}

// HostRoom creates the room space, opens the gate and enters the room as
// player HostPlayerID. view may be nil.
func (a *App) HostRoom(ctx context.Context, view RosterView) (*Room, error) {
	reg, err := a.ensureRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to start registry: %w", err)
	}

	sp := tuplespace.NewSpace()
	if err := reg.AddSpace(RoomSpace, sp); err != nil {
		return nil, err
	}

	d := Descriptor{
		HostName:  a.cfg.PlayerName,
		HostIP:    a.cfg.HostAddress,
		ClientURI: tuplespace.SpaceURI(a.cfg.HostAddress, a.Port(), RoomSpace),
	}
	if err := CreateRoom(ctx, sp, d); err != nil {
		return nil, err
	}
	if err := Announce(ctx, sp, a.cfg.PlayerName); err != nil {
		return nil, err
	}

	a.logger.Info("hosting room", slog.String("uri", d.ClientURI))
	return a.enterRoom(ctx, sp, HostPlayerID, view)
}

// JoinRoom connects to the room served at hostIP and enters it with a fresh
// player id. view may be nil.
func (a *App) JoinRoom(ctx context.Context, hostIP string, view RosterView) (*Room, error) {
	uri := tuplespace.SpaceURI(hostIP, a.cfg.Port, RoomSpace)
	client, err := a.dial(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to join room at %s: %w", uri, err)
	}

	if err := Announce(ctx, client, a.cfg.PlayerName); err != nil {
		return nil, err
	}
	id, err := AssignPlayerID(ctx, client)
	if err != nil {
		return nil, err
	}

	a.logger.Info("joined room", slog.String("uri", uri), slog.Int64("id", id))
	return a.enterRoom(ctx, client, id, view)
}

func (a *App) enterRoom(ctx context.Context, sp tuplespace.Space, id int64, view RosterView) (*Room, error) {
	d, err := ReadDescriptor(ctx, sp)
	if err != nil {
		return nil, err
	}
	if err := TakeAnnouncement(ctx, sp, a.cfg.PlayerName); err != nil {
		return nil, err
	}

	roster := NewRoster(sp, WithHardenedRoster(a.cfg.HardenedRoster), WithRosterLog(a.handler))
	if err := roster.Join(ctx, a.cfg.PlayerName, id); err != nil {
		return nil, err
	}

	room := &Room{
		Space:      sp,
		Descriptor: d,
		Name:       a.cfg.PlayerName,
		PlayerID:   id,
		Roster:     roster,
	}
	if view != nil {
		l := NewListener(sp, view, a.cfg.ListenMode, a.cfg.PollInterval, a.handler)
		room.stopListener = l.Start(context.WithoutCancel(ctx))
	}
	return room, nil
}

// StopListening stops the roster listener, if one was started.
func (r *Room) StopListening() error {
	if r.stopListener == nil {
		return nil
	}
	stop := r.stopListener
	r.stopListener = nil
	return stop()
}

// Leave stops listening and removes the player from the roster.
func (r *Room) Leave(ctx context.Context) error {
	if err := r.StopListening(); err != nil {
		return fmt.Errorf("roster listener failed: %w", err)
	}
	return r.Roster.Leave(ctx, r.Name)
}

// Match is a running game as seen by one player.
type Match struct {
	State    *game.State
	Lobby    tuplespace.Space
	PlayerID int64

	// Broadcaster and Controller are nil for spectators.
	Broadcaster *Broadcaster
	Controller  *Controller
}

// LaunchGame starts the game on the host or fetches it on a client. The
// host builds a fresh maze with a tractor for every player on the room's
// roster and publishes it in the lobby space, which the host serves from
// the moment its registry starts. A client dials the lobby on the machine
// that hosts its room. room may be nil: the host then plays as
// HostPlayerID and a client only spectates.
func (a *App) LaunchGame(ctx context.Context, room *Room) (*Match, error) {
	host, err := a.IsHost()
	if err != nil {
		return nil, err
	}

	var (
		lobby tuplespace.Space
		state *game.State
		id    int64
	)
	if room != nil {
		id = room.PlayerID
	}

	if host {
		a.logger.Info("host is creating a new game")
		if _, err := a.ensureRegistry(); err != nil {
			return nil, fmt.Errorf("failed to start registry: %w", err)
		}
		a.mu.Lock()
		lobby = a.lobby
		a.mu.Unlock()

		state, err = game.NewState(DefaultGridCols, DefaultGridRows, time.Now().UnixNano())
		if err != nil {
			return nil, err
		}
		if room == nil {
			id = HostPlayerID
			if _, err := state.AddTractor(id, a.cfg.PlayerName); err != nil {
				return nil, err
			}
		} else if err := addRosterTractors(ctx, state, room.Roster); err != nil {
			return nil, err
		}
		if err := PublishGame(ctx, lobby, state); err != nil {
			return nil, err
		}
	} else {
		a.logger.Info("client is fetching the existing game")
		hostIP := a.cfg.HostAddress
		if room != nil && room.Descriptor.HostIP != "" {
			hostIP = room.Descriptor.HostIP
		}
		client, err := a.dial(ctx, tuplespace.SpaceURI(hostIP, a.cfg.Port, LobbySpace))
		if err != nil {
			return nil, fmt.Errorf("failed to reach lobby: %w", err)
		}
		lobby = client
		state, err = FetchGame(ctx, lobby)
		if err != nil {
			return nil, err
		}
	}

	m := &Match{State: state, Lobby: lobby, PlayerID: id}
	if id == 0 {
		return m, nil
	}

	tractor, ok := state.Tractor(id)
	if !ok {
		// Joined after launch: every peer derives the same spawn point.
		if tractor, err = state.AddTractor(id, a.cfg.PlayerName); err != nil {
			return nil, err
		}
	}
	m.Broadcaster = NewBroadcaster(lobby, id, a.cfg.BroadcastInterval, a.handler)
	m.Controller = NewController(tractor.Pose, &state.Grid, m.Broadcaster)
	return m, nil
}

func addRosterTractors(ctx context.Context, state *game.State, roster *Roster) error {
	names, err := roster.Names(ctx)
	if err != nil {
		return err
	}
	ids, err := roster.IDs(ctx)
	if err != nil {
		return err
	}
	for i, id := range ids {
		name := ""
		if i < len(names) {
			name = names[i]
		}
		if _, err := state.AddTractor(id, name); err != nil {
			return err
		}
	}
	return nil
}

// Close disconnects every remote client and shuts down the hosted registry.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	clients := a.clients
	a.clients = nil
	reg := a.reg
	a.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if reg != nil {
		if err := reg.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
