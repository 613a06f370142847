// Package registry serves named tuple spaces to remote peers over TCP gates.
//
// A Registry owns a set of spaces keyed by name. Gates accept connections,
// each connection names one space in its handshake and then issues space
// operations against it until it disconnects.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/hashicorp/go-metrics"
)

var (
	ErrRegistryClosed = errors.New("registry: shut down")
	ErrInvalidName    = errors.New("registry: invalid space name")
)

var spaceNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateSpaceName reports whether name can appear as the path of a space URI.
func ValidateSpaceName(name string) error {
	if !spaceNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

type shutdowner interface {
	Shutdown()
}

type observable interface {
	Observe(obs tuplespace.Observer) (cancel func())
}

type entry struct {
	space   tuplespace.Space
	unwatch func()
}

// Registry maps space names to spaces and serves them through gates.
type Registry struct {
	cfg    config
	logger *slog.Logger

	mu     sync.Mutex
	spaces map[string]*entry
	gates  map[*Gate]struct{}
	conns  map[net.Conn]struct{}
	closed bool

	wg sync.WaitGroup
}

// New creates an empty registry.
func New(opts ...Option) (*Registry, error) {
	cfg := config{
		logHandler:       slog.Default().Handler(),
		msink:            &metrics.BlackholeSink{},
		handshakeTimeout: 10 * time.Second,
		ackTimeout:       10 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("failed to apply registry option: %w", err)
		}
	}

	return &Registry{
		cfg:    cfg,
		logger: slog.New(cfg.logHandler).With(slog.String("component", "registry")),
		spaces: make(map[string]*entry),
		gates:  make(map[*Gate]struct{}),
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

// AddSpace registers sp under name.
func (r *Registry) AddSpace(name string, sp tuplespace.Space) error {
	if err := ValidateSpaceName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.spaces[name]; ok {
		return fmt.Errorf("%w: %q", tuplespace.ErrDuplicateName, name)
	}

	e := &entry{space: sp}
	if obs, ok := sp.(observable); ok && r.cfg.observer != nil {
		fn := r.cfg.observer
		e.unwatch = obs.Observe(func(ev tuplespace.Event) { fn(name, ev) })
	}
	r.spaces[name] = e

	r.logger.Debug("space added", LabelSpace.L(name))
	r.cfg.msink.SetGaugeWithLabels(MetricSpacesGauge, float32(len(r.spaces)), r.cfg.metricLabels)
	return nil
}

// RemoveSpace unregisters name and shuts the space down, which wakes any
// request still blocked on it with ErrSpaceClosed.
func (r *Registry) RemoveSpace(name string) error {
	r.mu.Lock()
	e, ok := r.spaces[name]
	if ok {
		delete(r.spaces, name)
	}
	count := len(r.spaces)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", tuplespace.ErrUnknownSpace, name)
	}
	if e.unwatch != nil {
		e.unwatch()
	}
	if sd, ok := e.space.(shutdowner); ok {
		sd.Shutdown()
	}

	r.logger.Debug("space removed", LabelSpace.L(name))
	r.cfg.msink.SetGaugeWithLabels(MetricSpacesGauge, float32(count), r.cfg.metricLabels)
	return nil
}

// Space returns the space registered under name.
func (r *Registry) Space(name string) (tuplespace.Space, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.spaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", tuplespace.ErrUnknownSpace, name)
	}
	return e.space, nil
}

// Spaces lists registered space names in lexical order.
func (r *Registry) Spaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.spaces))
	for name := range r.spaces {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Connections returns the number of live peer connections.
func (r *Registry) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Closed reports whether Shutdown has been called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Shutdown closes every gate and connection, then shuts down every space.
// It waits for connection handlers to exit or for ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	gates := make([]*Gate, 0, len(r.gates))
	for g := range r.gates {
		gates = append(gates, g)
	}
	for c := range r.conns {
		c.Close()
	}
	entries := r.spaces
	r.spaces = make(map[string]*entry)
	r.mu.Unlock()

	for _, g := range gates {
		g.Close()
	}
	for _, e := range entries {
		if e.unwatch != nil {
			e.unwatch()
		}
		if sd, ok := e.space.(shutdowner); ok {
			sd.Shutdown()
		}
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("registry shut down")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain registry connections: %w", ctx.Err())
	}
}

func (r *Registry) trackConn(c net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.conns[c] = struct{}{}
	r.wg.Add(1)
	return true
}

func (r *Registry) untrackConn(c net.Conn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
	r.wg.Done()
}

func (r *Registry) labels(extra ...metrics.Label) []metrics.Label {
	return append(slices.Clone(r.cfg.metricLabels), extra...)
}
