// Package server runs a standalone space registry: the spaces, a gate, an
// optional health endpoint and an optional Redis journal.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dyluth/arena/internal/config"
	"github.com/dyluth/arena/internal/journal"
	"github.com/dyluth/arena/internal/registry"
	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/hashicorp/go-metrics"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	Config *config.ArenaConfig
	// Spaces to create at start.
	Spaces     []string
	LogHandler slog.Handler
	MetricSink metrics.MetricSink
}

// Server is a running registry.
type Server struct {
	Registry *registry.Registry
	Gate     *registry.Gate
	Health   *registry.HealthServer
	Journal  *journal.Journal

	logger *slog.Logger
}

// Start opens everything described by opts. On failure whatever was
// already started is shut down.
func Start(ctx context.Context, opts Options) (_ *Server, err error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if len(opts.Spaces) == 0 {
		return nil, errors.New("at least one space is required")
	}
	handler := opts.LogHandler
	if handler == nil {
		handler = slog.Default().Handler()
	}

	s := &Server{logger: slog.New(handler).With(slog.String("component", "server"))}
	defer func() {
		if err != nil {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			s.Shutdown(sctx)
		}
	}()

	regOpts := []registry.Option{registry.WithLog(handler), registry.WithMetricSink(opts.MetricSink)}
	if cfg.Journal != nil {
		s.Journal, err = journal.NewFromURL(cfg.Journal.RedisURL, cfg.Journal.Instance, journal.WithLog(handler))
		if err != nil {
			return nil, err
		}
		if err := s.Journal.Ping(ctx); err != nil {
			return nil, err
		}
		regOpts = append(regOpts, registry.WithSpaceObserver(s.Journal.Record))
	}

	s.Registry, err = registry.New(regOpts...)
	if err != nil {
		return nil, err
	}
	for _, name := range opts.Spaces {
		if err := s.Registry.AddSpace(name, tuplespace.NewSpace()); err != nil {
			return nil, fmt.Errorf("failed to add space %q: %w", name, err)
		}
	}

	listen := cfg.Network.ListenAddress
	if listen == "" {
		listen = cfg.Network.HostAddress
	}
	if listen == "" {
		listen = "0.0.0.0"
	}
	s.Gate, err = s.Registry.AddGate(tuplespace.GateURI(listen, *cfg.Network.Port))
	if err != nil {
		return nil, err
	}

	if cfg.Network.HealthAddress != "" {
		s.Health = registry.NewHealthServer(s.Registry, cfg.Network.HealthAddress)
		if err := s.Health.Start(); err != nil {
			return nil, fmt.Errorf("failed to start health server: %w", err)
		}
	}

	s.logger.Info("registry serving", slog.Any("spaces", s.Registry.Spaces()), slog.String("addr", s.Gate.Addr().String()))
	return s, nil
}

// Port returns the bound gate port.
func (s *Server) Port() int {
	return s.Gate.Port()
}

// Wait blocks until ctx ends and then shuts the server down.
func (s *Server) Wait(ctx context.Context) error {
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(sctx)
}

// Shutdown stops the health endpoint, the registry and the journal, in
// that order.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.Health != nil {
		errs = append(errs, s.Health.Shutdown(ctx))
	}
	if s.Registry != nil {
		errs = append(errs, s.Registry.Shutdown(ctx))
	}
	if s.Journal != nil {
		if dropped := s.Journal.Dropped(); dropped > 0 {
			s.logger.Warn("journal dropped entries", slog.Uint64("dropped", dropped))
		}
		errs = append(errs, s.Journal.Close())
	}
	return errors.Join(errs...)
}
