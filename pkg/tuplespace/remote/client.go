// Package remote provides a tuplespace.Space that forwards every operation
// to a space served by a registry over TCP.
//
// A Client is bound to one space for its whole life and owns one persistent
// connection. Operations are issued one at a time: concurrent callers are
// serialized by the client, so a blocked Get holds the connection until it
// is satisfied or its context ends.
//
//	c, err := remote.Dial(ctx, "tcp://192.168.1.107:9001/room?keep")
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	t, err := c.Query(ctx, tuplespace.Match("name", tuplespace.KindString))
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/arena/internal/wire"
	"github.com/dyluth/arena/pkg/tuplespace"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("remote: client closed")

type config struct {
	dialTimeout time.Duration
	logHandler  slog.Handler
}

// Option configures Dial.
type Option func(*config)

// WithDialTimeout bounds connection setup including the handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithLog specifies which slog.Handler to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) {
		c.logHandler = handler
	}
}

// Client is a remote handle on one named space.
type Client struct {
	uri    tuplespace.URI
	cfg    config
	logger *slog.Logger

	conn   *wire.Conn
	closed atomic.Bool

	mu     sync.Mutex
	nextID uint64
	broken error
}

var (
	_ tuplespace.Space   = (*Client)(nil)
	_ tuplespace.Watcher = (*Client)(nil)
)

// Dial connects to the space named by uri. It fails with ErrConnectFailed
// when the registry cannot be reached or does not serve that space; in the
// latter case the error also matches ErrUnknownSpace.
func Dial(ctx context.Context, uri string, opts ...Option) (*Client, error) {
	u, err := tuplespace.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if u.Space == "" {
		return nil, fmt.Errorf("%w: %q names no space", tuplespace.ErrInvalidURI, uri)
	}

	cfg := config{
		dialTimeout: 10 * time.Second,
		logHandler:  slog.Default().Handler(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Client{
		uri:    u,
		cfg:    cfg,
		logger: slog.New(cfg.logHandler).With(slog.String("component", "remote"), slog.String("space", u.Space)),
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.logger.Debug("connected", slog.String("addr", u.Address()))
	return c, nil
}

func (c *Client) connect(ctx context.Context) (*wire.Conn, error) {
	d := net.Dialer{Timeout: c.cfg.dialTimeout}
	nc, err := d.DialContext(ctx, "tcp", c.uri.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", tuplespace.ErrConnectFailed, c.uri.Address(), err)
	}

	conn := wire.NewConn(nc)
	deadline := time.Now().Add(c.cfg.dialTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)

	if err := conn.Send(wire.Hello{Space: c.uri.Space}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: failed to send hello: %w", tuplespace.ErrConnectFailed, err)
	}
	var welcome wire.Welcome
	if err := conn.Receive(&welcome); err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: failed to read welcome: %w", tuplespace.ErrConnectFailed, err)
	}
	if !welcome.OK {
		nc.Close()
		return nil, fmt.Errorf("%w: %w", tuplespace.ErrConnectFailed, welcome.Code.Err(welcome.Message))
	}

	conn.SetDeadline(time.Time{})
	return conn, nil
}

// URI returns the parsed connection URI.
func (c *Client) URI() tuplespace.URI {
	return c.uri
}

// Close releases the connection. A call blocked in Get or Query returns
// ErrRemoteFailure.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) roundTrip(ctx context.Context, req wire.Request) (wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return wire.Response{}, ErrClosed
	}
	if c.broken != nil {
		return wire.Response{}, fmt.Errorf("%w: connection unusable: %w", tuplespace.ErrRemoteFailure, c.broken)
	}
	if err := ctx.Err(); err != nil {
		return wire.Response{}, err
	}

	c.nextID++
	req.ID = c.nextID
	if err := c.conn.Send(req); err != nil {
		return wire.Response{}, c.fail(req.Op, err)
	}

	id := req.ID
	stop := context.AfterFunc(ctx, func() {
		c.conn.Send(wire.Request{Op: wire.OpCancel, Target: id})
	})
	defer stop()

	for {
		var resp wire.Response
		if err := c.conn.Receive(&resp); err != nil {
			return wire.Response{}, c.fail(req.Op, err)
		}
		if resp.ID != id {
			continue
		}
		if err := resp.Err(); err != nil {
			if resp.Code == wire.CodeCanceled && ctx.Err() != nil {
				return resp, ctx.Err()
			}
			return resp, fmt.Errorf("%s: %w", req.Op, err)
		}
		if wire.NeedsAck(req.Op, resp) {
			// Unacknowledged tuples are put back by the registry, so a
			// failed ack must not hand them to the caller too.
			if err := c.conn.Send(wire.Request{Op: wire.OpAck, Target: id}); err != nil {
				return wire.Response{}, c.fail(req.Op, err)
			}
		}
		return resp, nil
	}
}

func (c *Client) fail(op tuplespace.Op, err error) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: %s: %w", tuplespace.ErrRemoteFailure, op, ErrClosed)
	}
	c.broken = err
	c.logger.Warn("connection failed", slog.String("op", string(op)), slog.Any("error", err))
	return fmt.Errorf("%w: %s: %w", tuplespace.ErrRemoteFailure, op, err)
}

func (c *Client) single(ctx context.Context, op tuplespace.Op, p tuplespace.Pattern) (tuplespace.Tuple, bool, error) {
	if err := p.Validate(); err != nil {
		return nil, false, err
	}
	resp, err := c.roundTrip(ctx, wire.Request{Op: op, Pattern: wire.EncodePattern(p)})
	if err != nil {
		return nil, false, err
	}
	if resp.Status == wire.StatusAbsent {
		return nil, false, nil
	}
	if len(resp.Tuples) != 1 {
		return nil, false, fmt.Errorf("%w: %s: expected one tuple, got %d", tuplespace.ErrRemoteFailure, op, len(resp.Tuples))
	}
	t, err := wire.DecodeTuple(resp.Tuples[0])
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", tuplespace.ErrRemoteFailure, op, err)
	}
	return t, true, nil
}

func (c *Client) multi(ctx context.Context, op tuplespace.Op, p tuplespace.Pattern) ([]tuplespace.Tuple, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, wire.Request{Op: op, Pattern: wire.EncodePattern(p)})
	if err != nil {
		return nil, err
	}
	ts, err := wire.DecodeTuples(resp.Tuples)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", tuplespace.ErrRemoteFailure, op, err)
	}
	return ts, nil
}

// Put inserts t into the remote space.
func (c *Client) Put(ctx context.Context, t tuplespace.Tuple) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := c.roundTrip(ctx, wire.Request{Op: tuplespace.OpPut, Tuple: wire.EncodeTuple(t)})
	return err
}

// Get blocks until a tuple matching p exists remotely and removes it.
func (c *Client) Get(ctx context.Context, p tuplespace.Pattern) (tuplespace.Tuple, error) {
	t, _, err := c.single(ctx, tuplespace.OpGet, p)
	return t, err
}

// Query blocks until a tuple matching p exists remotely and returns a copy.
func (c *Client) Query(ctx context.Context, p tuplespace.Pattern) (tuplespace.Tuple, error) {
	t, _, err := c.single(ctx, tuplespace.OpQuery, p)
	return t, err
}

// GetP removes and returns a match if one exists now.
func (c *Client) GetP(ctx context.Context, p tuplespace.Pattern) (tuplespace.Tuple, bool, error) {
	return c.single(ctx, tuplespace.OpGetP, p)
}

// QueryP returns a copy of a match if one exists now.
func (c *Client) QueryP(ctx context.Context, p tuplespace.Pattern) (tuplespace.Tuple, bool, error) {
	return c.single(ctx, tuplespace.OpQueryP, p)
}

// GetAll removes and returns every current match.
func (c *Client) GetAll(ctx context.Context, p tuplespace.Pattern) ([]tuplespace.Tuple, error) {
	return c.multi(ctx, tuplespace.OpGetAll, p)
}

// QueryAll returns copies of every current match.
func (c *Client) QueryAll(ctx context.Context, p tuplespace.Pattern) ([]tuplespace.Tuple, error) {
	return c.multi(ctx, tuplespace.OpQueryAll, p)
}
