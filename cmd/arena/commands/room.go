package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/arena/internal/config"
	"github.com/dyluth/arena/internal/journal"
	"github.com/dyluth/arena/internal/printer"
	"github.com/dyluth/arena/internal/registry"
	"github.com/dyluth/arena/internal/session"
	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/spf13/cobra"
)

var (
	roomLaunchAfter time.Duration
	roomPlay        bool
)

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Enter the room, hosting it if this machine is the host",
	Long: `Enter the game room and print the roster whenever it changes.

With no subcommand, host election decides: the machine whose outbound
address equals the configured host address creates the room, every other
machine joins it. Election is a heuristic, so 'room host' and 'room join'
are available to force a role.

Examples:
  # Let election decide
  arena room --player alice --host 192.168.1.10

  # Host and start the game after 30 seconds
  arena room host --player alice --host 192.168.1.10 --launch-after 30s

  # Join and play once the host launches
  arena room join --player bob --host 192.168.1.10 --play`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error { return runRoom(cmd, roleElect, "") },
}

var roomHostCmd = &cobra.Command{
	Use:   "host",
	Short: "Create the room on this machine",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return runRoom(cmd, roleHost, "") },
}

var roomJoinCmd = &cobra.Command{
	Use:   "join [HOST_IP]",
	Short: "Join the room served by HOST_IP (default: the configured host)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		return runRoom(cmd, roleJoin, target)
	},
}

type role int

const (
	roleElect role = iota
	roleHost
	roleJoin
)

func init() {
	roomCmd.PersistentFlags().DurationVar(&roomLaunchAfter, "launch-after", 0, "Host only: launch the game after this long (0 never launches)")
	roomCmd.PersistentFlags().BoolVar(&roomPlay, "play", false, "Wait for the game launch and follow it")
	roomCmd.AddCommand(roomHostCmd, roomJoinCmd)
	rootCmd.AddCommand(roomCmd)
}

func runRoom(cmd *cobra.Command, r role, target string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := requirePlayer(cfg); err != nil {
		return err
	}
	if err := requireHost(cfg); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	app, j, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		app.Close(cctx)
		if j != nil {
			j.Close()
		}
	}()

	if r == roleElect {
		host, err := app.IsHost()
		if err != nil {
			return printer.Error("host election failed", err.Error(), []string{
				"Force a role:\n  arena room host\n  arena room join",
			})
		}
		r = roleJoin
		if host {
			r = roleHost
		}
	}

	view := session.RosterViewFunc(func(names []string) {
		printer.Roster(names, cfg.Player.Name)
	})

	var room *session.Room
	if r == roleHost {
		printer.Step("Creating room on %s\n", cfg.Network.HostAddress)
		room, err = app.HostRoom(ctx, view)
	} else {
		if target == "" {
			target = cfg.Network.HostAddress
		}
		printer.Step("Joining room at %s\n", target)
		room, err = app.JoinRoom(ctx, target, view)
	}
	if err != nil {
		return roomError(err)
	}
	printer.Success("Entered room hosted by %s as player %d\n", room.Descriptor.HostName, room.PlayerID)

	if r == roleHost && roomLaunchAfter > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(roomLaunchAfter):
			roomPlay = true
		}
	}
	if roomPlay && ctx.Err() == nil {
		m, err := app.LaunchGame(ctx, room)
		if err != nil && ctx.Err() == nil {
			return printer.Error("failed to start game", err.Error(), nil)
		}
		if err == nil {
			followMatch(ctx, m)
		}
	}

	<-ctx.Done()
	printer.Info("\nLeaving room\n")
	lctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := room.Leave(lctx); err != nil {
		printer.Warning("failed to leave cleanly: %v\n", err)
	}
	return nil
}

// newApp builds the session App, wiring the journal into the hosted
// registry when one is configured.
func newApp(ctx context.Context, cfg *config.ArenaConfig) (*session.App, *journal.Journal, error) {
	h := logHandler()
	opts := []session.AppOption{session.WithLog(h)}

	var j *journal.Journal
	if cfg.Journal != nil {
		var err error
		j, err = journal.NewFromURL(cfg.Journal.RedisURL, cfg.Journal.Instance, journal.WithLog(h))
		if err != nil {
			return nil, nil, printer.Error("invalid journal configuration", err.Error(), nil)
		}
		if err := j.Ping(ctx); err != nil {
			j.Close()
			return nil, nil, printer.ErrorWithContext("Redis connection failed", err.Error(),
				map[string]string{"URL": cfg.Journal.RedisURL},
				[]string{"Start Redis or remove journal.redis_url from arena.yml"})
		}
		opts = append(opts, session.WithRegistryOptions(registry.WithSpaceObserver(j.Record)))
	}

	app, err := session.NewApp(cfg.Session(), opts...)
	if err != nil {
		if j != nil {
			j.Close()
		}
		return nil, nil, printer.Error("invalid session configuration", err.Error(), nil)
	}
	return app, j, nil
}

func roomError(err error) error {
	switch {
	case errors.Is(err, tuplespace.ErrDuplicateName):
		return printer.Error("room already exists", err.Error(), []string{"Join it instead:\n  arena room join"})
	case errors.Is(err, tuplespace.ErrUnknownSpace):
		return printer.Error("no room on that host", err.Error(), []string{"Wait for the host to run 'arena room host'"})
	case errors.Is(err, tuplespace.ErrConnectFailed):
		return printer.Error("host unreachable", err.Error(), []string{"Check --host and --port", "Check the host is running"})
	}
	return printer.Error("room failed", err.Error(), nil)
}

// followMatch prints the local tractor and then every peer position change
// until ctx ends.
func followMatch(ctx context.Context, m *session.Match) {
	printer.Success("Game started: %dx%d maze, %d tractors\n", m.State.Grid.Cols, m.State.Grid.Rows, len(m.State.Tractors))
	if m.Controller != nil {
		p := m.Controller.Pose()
		printer.Info("You are player %d at (%.0f, %.0f)\n", m.PlayerID, p.X, p.Y)
	}

	go func() {
		last := map[int64]string{}
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			peers, err := session.Peers(ctx, m.Lobby)
			if err != nil {
				return
			}
			for id, p := range peers {
				s := fmt.Sprintf("(%.0f, %.0f) %.0f°", p.X, p.Y, p.Rotation)
				if last[id] != s {
					printer.Info("player %d at %s\n", id, s)
					last[id] = s
				}
			}
		}
	}()
}
