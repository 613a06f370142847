package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/arena/internal/config"
	"github.com/dyluth/arena/internal/printer"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

var (
	configPath   string
	playerName   string
	hostAddress  string
	port         int
	hardened     bool
	listenMode   string
	verbose      bool
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "arena",
	Short: "Arena - LAN tractor arena built on shared tuple spaces",
	Long: `Arena runs a small multiplayer tractor game over a LAN.

Players coordinate through tuple spaces served by the host: a room space
holding the roster and a lobby space holding the game and every tractor's
latest position. The same spaces can be inspected and edited directly with
the put, get and query commands.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", config.DefaultFile, "Path to arena.yml")
	pf.StringVarP(&playerName, "player", "p", "", "Player name (overrides player.name)")
	pf.StringVar(&hostAddress, "host", "", "Host address (overrides network.host_address)")
	pf.IntVar(&port, "port", 0, "Registry port (overrides network.port)")
	pf.BoolVar(&hardened, "hardened", false, "Serialize roster updates under the roster lock")
	pf.StringVar(&listenMode, "listen", "", "Roster listener mode: poll or push")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// loadConfig reads arena.yml (or defaults), then ARENA_* variables, then
// any flags set on the command line.
func loadConfig(cmd *cobra.Command) (*config.ArenaConfig, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Fix %s or remove it to use defaults", configPath)},
		)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, printer.Error("invalid environment", err.Error(), nil)
	}

	flags := cmd.Flags()
	if flags.Changed("player") {
		cfg.Player.Name = playerName
	}
	if flags.Changed("host") {
		cfg.Network.HostAddress = hostAddress
	}
	if flags.Changed("port") {
		p := port
		cfg.Network.Port = &p
	}
	if flags.Changed("hardened") {
		cfg.Roster.Hardened = hardened
	}
	if flags.Changed("listen") {
		cfg.Roster.Mode = listenMode
	}
	if err := cfg.Validate(); err != nil {
		return nil, printer.Error("invalid configuration", err.Error(), nil)
	}
	return cfg, nil
}

func logHandler() slog.Handler {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
}

// signalContext is cancelled by SIGINT or SIGTERM, or when parent ends.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func requireHost(cfg *config.ArenaConfig) error {
	if cfg.Network.HostAddress == "" {
		return printer.Error(
			"host address not set",
			"Every player must agree on the host's IP address.",
			[]string{
				"Pass it on the command line:\n  arena --host 192.168.1.10 ...",
				"Set network.host_address in arena.yml",
				"Export ARENA_HOST_ADDRESS",
			},
		)
	}
	return nil
}

func requirePlayer(cfg *config.ArenaConfig) error {
	if cfg.Player.Name == "" {
		return printer.Error(
			"player name not set",
			"The room identifies players by name.",
			[]string{"Pass it on the command line:\n  arena --player alice ...", "Set player.name in arena.yml"},
		)
	}
	return nil
}
