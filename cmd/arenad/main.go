package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dyluth/arena/internal/config"
	"github.com/dyluth/arena/internal/server"
	"github.com/dyluth/arena/internal/session"
	"github.com/hashicorp/go-metrics"
)

func main() {
	// 1. Load configuration: optional file, then ARENA_* variables
	path := os.Getenv("ARENA_CONFIG")
	if path == "" {
		path = config.DefaultFile
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	spaces := parseSpaces(os.Getenv("ARENA_SPACES"))

	// 2. Logging and metrics. SIGUSR1 dumps the in-memory metrics to stderr.
	level := slog.LevelInfo
	if os.Getenv("ARENA_DEBUG") != "" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	sig := metrics.DefaultInmemSignal(sink)
	defer sig.Stop()

	// 3. Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 4. Start registry, gate, health endpoint and journal
	s, err := server.Start(ctx, server.Options{
		Config:     cfg,
		Spaces:     spaces,
		LogHandler: handler,
		MetricSink: sink,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start registry: %v\n", err)
		os.Exit(1)
	}

	// 5. Serve until signalled
	if err := s.Wait(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: shutdown incomplete: %v\n", err)
		os.Exit(1)
	}
}

// parseSpaces splits a comma separated list, defaulting to the game spaces.
func parseSpaces(raw string) []string {
	var spaces []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			spaces = append(spaces, s)
		}
	}
	if len(spaces) == 0 {
		return []string{session.RoomSpace, session.LobbySpace}
	}
	return spaces
}
