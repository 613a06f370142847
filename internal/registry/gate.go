package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/dyluth/arena/pkg/tuplespace"
)

// Gate is a TCP listener feeding connections to its registry. A gate opened
// without the keep flag accepts a single connection and then stops listening.
type Gate struct {
	reg  *Registry
	ln   net.Listener
	uri  tuplespace.URI
	keep bool

	closeOnce sync.Once
	done      chan struct{}
}

// AddGate starts listening on the address of uri, for example
// "tcp://0.0.0.0:9001/?keep". The path of a gate URI is ignored.
func (r *Registry) AddGate(uri string) (*Gate, error) {
	u, err := tuplespace.ParseURI(uri)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	r.mu.Unlock()

	ln, err := net.Listen("tcp", u.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to open gate %s: %w", u.Address(), err)
	}

	g := &Gate{
		reg:  r,
		ln:   ln,
		uri:  u,
		keep: u.Keep,
		done: make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ln.Close()
		return nil, ErrRegistryClosed
	}
	r.gates[g] = struct{}{}
	r.mu.Unlock()

	r.logger.Info("gate open", LabelGate.L(ln.Addr().String()), slog.Bool("keep", u.Keep))
	go g.acceptLoop()
	return g, nil
}

// Addr returns the bound listen address.
func (g *Gate) Addr() net.Addr {
	return g.ln.Addr()
}

// Port returns the bound TCP port, useful when the gate was opened on port 0.
func (g *Gate) Port() int {
	if a, ok := g.ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return g.uri.Port
}

// Done is closed once the gate stops accepting.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Close stops accepting. Connections already accepted are unaffected.
func (g *Gate) Close() error {
	var err error
	g.closeOnce.Do(func() {
		err = g.ln.Close()
		g.reg.mu.Lock()
		delete(g.reg.gates, g)
		g.reg.mu.Unlock()
	})
	return err
}

func (g *Gate) acceptLoop() {
	defer close(g.done)
	defer g.Close()

	for {
		nc, err := g.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				g.reg.logger.Warn("gate accept failed", LabelGate.L(g.ln.Addr().String()), LabelError.L(err))
			}
			return
		}

		if !g.reg.trackConn(nc) {
			nc.Close()
			return
		}
		go g.reg.serveConn(nc)

		if !g.keep {
			return
		}
	}
}
