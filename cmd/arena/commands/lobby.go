package commands

import (
	"context"
	"errors"
	"time"

	"github.com/dyluth/arena/internal/printer"
	"github.com/dyluth/arena/internal/session"
	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/spf13/cobra"
)

var lobbyCmd = &cobra.Command{
	Use:   "lobby",
	Short: "Start or spectate a game without a room",
	Long: `Publish a new game in the lobby space, or fetch the game already
published there, and follow tractor positions until interrupted.

'lobby host' plays as the host's player 1. 'lobby join' only spectates: it
has no room, so it has no player id.

Examples:
  arena lobby host --player alice --host 192.168.1.10
  arena lobby join --host 192.168.1.10`,
}

var lobbyHostCmd = &cobra.Command{
	Use:   "host",
	Short: "Publish a new game from this machine",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return runLobby(cmd, true) },
}

var lobbyJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Fetch the published game and spectate it",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return runLobby(cmd, false) },
}

func init() {
	lobbyCmd.AddCommand(lobbyHostCmd, lobbyJoinCmd)
	rootCmd.AddCommand(lobbyCmd)
}

func runLobby(cmd *cobra.Command, host bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := requireHost(cfg); err != nil {
		return err
	}
	if cfg.Player.Name == "" {
		cfg.Player.Name = "spectator"
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

	isHost, err := app.IsHost()
	if err != nil {
		return printer.Error("host election failed", err.Error(), nil)
	}
	if isHost != host {
		if host {
			return printer.Error("this machine is not the host",
				"Only the machine at the configured host address can publish the game.",
				[]string{"Run 'arena lobby join' here instead", "Check --host"})
		}
		return printer.Error("this machine is the host",
			"The host publishes the game rather than fetching it.",
			[]string{"Run 'arena lobby host' here instead"})
	}

	m, err := app.LaunchGame(ctx, nil)
	if err != nil {
		if errors.Is(err, tuplespace.ErrUnknownSpace) {
			return printer.Error("no game published yet", err.Error(), []string{"Wait for the host to run 'arena lobby host'"})
		}
		return printer.Error("failed to start game", err.Error(), nil)
	}
	if host {
		printer.Info("Lobby open at %s\n", tuplespace.SpaceURI(cfg.Network.HostAddress, app.Port(), session.LobbySpace))
	}

	followMatch(ctx, m)
	<-ctx.Done()
	return nil
}
