package commands

import (
	"github.com/dyluth/arena/internal/printer"
	"github.com/dyluth/arena/internal/server"
	"github.com/dyluth/arena/internal/session"
	"github.com/spf13/cobra"
)

var serveHealthAddr string

var serveCmd = &cobra.Command{
	Use:   "serve [SPACE...]",
	Short: "Serve named tuple spaces without joining a game",
	Long: `Serve one or more empty tuple spaces on the configured port until
interrupted. With no arguments the room and lobby spaces are served.

When journal.redis_url is configured every space mutation is mirrored to
Redis and can be followed with 'arena watch'.

Examples:
  # Serve the default spaces on all interfaces
  arena serve

  # Serve a scratch space on a custom port with a health endpoint
  arena serve scratch --port 9100 --health 127.0.0.1:8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHealthAddr, "health", "", "Health endpoint listen address (overrides network.health_address)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("health") {
		cfg.Network.HealthAddress = serveHealthAddr
	}

	spaces := args
	if len(spaces) == 0 {
		spaces = []string{session.RoomSpace, session.LobbySpace}
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	s, err := server.Start(ctx, server.Options{Config: cfg, Spaces: spaces, LogHandler: logHandler()})
	if err != nil {
		return printer.Error("failed to start registry", err.Error(), []string{
			"Check that the port is free or pick another with --port",
		})
	}

	printer.Success("Serving %v on %s\n", s.Registry.Spaces(), s.Gate.Addr())
	if s.Health != nil {
		printer.Info("Health endpoint: http://%s/healthz\n", s.Health.Addr())
	}
	if s.Journal != nil {
		printer.Info("Journaling to instance '%s'\n", s.Journal.Instance())
	}

	if err := s.Wait(ctx); err != nil {
		printer.Warning("shutdown incomplete: %v\n", err)
	}
	printer.Info("Registry stopped\n")
	return nil
}
