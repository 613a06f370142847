package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dyluth/arena/internal/wire"
	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/google/uuid"
)

// pending requests a connection may queue behind a blocked one
const requestBacklog = 16

type session struct {
	reg    *Registry
	conn   *wire.Conn
	name   string
	space  tuplespace.Space
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	acks   chan uint64

	mu             sync.Mutex
	inflightID     uint64
	inflightCancel context.CancelFunc
	lastDone       uint64
	early          map[uint64]struct{}
}

func (r *Registry) serveConn(nc net.Conn) {
	defer r.untrackConn(nc)
	defer nc.Close()

	connID := uuid.NewString()
	logger := r.logger.With(LabelConnID.L(connID), LabelPeerAddr.L(nc.RemoteAddr().String()))
	conn := wire.NewConn(nc)

	name, sp, err := r.handshake(conn)
	if err != nil {
		logger.Debug("handshake rejected", LabelError.L(err))
		r.cfg.msink.IncrCounterWithLabels(MetricConnErrorCount, 1, r.labels(LabelError.M(string(wire.CodeOf(err)))))
		return
	}
	r.cfg.msink.IncrCounterWithLabels(MetricConnEstCount, 1, r.labels(LabelSpace.M(name)))
	logger = logger.With(LabelSpace.L(name))
	logger.Debug("connection established")

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		reg:    r,
		conn:   conn,
		name:   name,
		space:  sp,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		acks:   make(chan uint64, 1),
		early:  make(map[uint64]struct{}),
	}
	s.run()
	logger.Debug("connection closed")
}

func (r *Registry) handshake(conn *wire.Conn) (string, tuplespace.Space, error) {
	if err := conn.SetDeadline(time.Now().Add(r.cfg.handshakeTimeout)); err != nil {
		return "", nil, err
	}

	var hello wire.Hello
	if err := conn.Receive(&hello); err != nil {
		return "", nil, fmt.Errorf("failed to read hello: %w", err)
	}

	sp, err := r.Space(hello.Space)
	if err != nil {
		conn.Send(wire.Welcome{Code: wire.CodeOf(err), Message: err.Error()})
		return "", nil, err
	}
	if err := conn.Send(wire.Welcome{OK: true}); err != nil {
		return "", nil, fmt.Errorf("failed to send welcome: %w", err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return "", nil, err
	}
	return hello.Space, sp, nil
}

// run reads frames on one goroutine and executes requests in order on the
// calling goroutine, which is the only writer. CANCEL and ACK frames are
// handled by the reader so they can reach a request that is still blocked.
//
// Tuples removed for a client stay owned by the session until the client
// acknowledges them. A write into a socket whose peer has gone can still
// succeed, so only the ACK proves delivery.
func (s *session) run() {
	defer s.cancel()

	reqs := make(chan wire.Request, requestBacklog)
	go s.readLoop(reqs)

	for req := range reqs {
		if req.Op == wire.OpWatch {
			s.streamWatch(req)
			return
		}
		resp := s.handle(req)
		if s.ctx.Err() != nil {
			// peer hung up while the request was running
			s.restore(req, resp)
			return
		}
		if err := s.conn.Send(resp); err != nil {
			s.logger.Debug("failed to write response", LabelOp.L(req.Op), LabelError.L(err))
			s.restore(req, resp)
			return
		}
		if wire.NeedsAck(req.Op, resp) && !s.awaitAck(req.ID) {
			s.restore(req, resp)
			return
		}
	}
}

// awaitAck waits for the client to confirm response id. It returns false
// when the connection ends or the ack timeout passes first.
func (s *session) awaitAck(id uint64) bool {
	timer := time.NewTimer(s.reg.cfg.ackTimeout)
	defer timer.Stop()
	for {
		select {
		case got := <-s.acks:
			if got == id {
				return true
			}
			s.logger.Debug("ignoring stale ack", slog.Uint64("target", got), slog.Uint64("want", id))
		case <-s.ctx.Done():
			return false
		case <-timer.C:
			s.logger.Warn("no ack for removing response", slog.Uint64("id", id))
			return false
		}
	}
}

func (s *session) readLoop(reqs chan<- wire.Request) {
	defer close(reqs)
	defer s.cancel()

	for {
		var req wire.Request
		if err := s.conn.Receive(&req); err != nil {
			return
		}
		if req.Op == wire.OpCancel {
			s.cancelInflight(req.Target)
			continue
		}
		if req.Op == wire.OpAck {
			select {
			case s.acks <- req.Target:
			default:
				s.logger.Debug("dropping unexpected ack", slog.Uint64("target", req.Target))
			}
			continue
		}
		select {
		case reqs <- req:
		case <-s.ctx.Done():
			return
		}
	}
}

// cancelInflight cancels request id if it is running, or remembers it if
// the request is still queued behind another one.
func (s *session) cancelInflight(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.inflightCancel != nil && s.inflightID == id:
		s.inflightCancel()
	case id > s.lastDone && id != s.inflightID:
		s.early[id] = struct{}{}
	}
}

func (s *session) handle(req wire.Request) wire.Response {
	start := time.Now()

	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.inflightID, s.inflightCancel = req.ID, cancel
	if _, ok := s.early[req.ID]; ok {
		delete(s.early, req.ID)
		cancel()
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inflightID, s.inflightCancel = 0, nil
		if req.ID > s.lastDone {
			s.lastDone = req.ID
		}
		s.mu.Unlock()
		cancel()
	}()

	resp := s.execute(ctx, req)

	labels := s.reg.labels(LabelSpace.M(s.name), LabelOp.M(string(req.Op)), LabelStatus.M(string(resp.Status)))
	s.reg.cfg.msink.IncrCounterWithLabels(MetricOpCount, 1, labels)
	s.reg.cfg.msink.AddSampleWithLabels(MetricOpDurationMs, float32(time.Since(start).Milliseconds()), labels)
	return resp
}

func (s *session) execute(ctx context.Context, req wire.Request) wire.Response {
	if req.Op == tuplespace.OpPut {
		t, err := wire.DecodeTuple(req.Tuple)
		if err != nil {
			return wire.ErrorResponse(req.ID, err)
		}
		if err := s.space.Put(ctx, t); err != nil {
			return wire.ErrorResponse(req.ID, err)
		}
		return wire.Response{ID: req.ID, Status: wire.StatusOK}
	}

	p, err := wire.DecodePattern(req.Pattern)
	if err != nil {
		return wire.ErrorResponse(req.ID, err)
	}

	switch req.Op {
	case tuplespace.OpGet, tuplespace.OpQuery:
		var t tuplespace.Tuple
		if req.Op == tuplespace.OpGet {
			t, err = s.space.Get(ctx, p)
		} else {
			t, err = s.space.Query(ctx, p)
		}
		if err != nil {
			return wire.ErrorResponse(req.ID, err)
		}
		return wire.Response{ID: req.ID, Status: wire.StatusOK, Tuples: [][]wire.Field{wire.EncodeTuple(t)}}

	case tuplespace.OpGetP, tuplespace.OpQueryP:
		var (
			t  tuplespace.Tuple
			ok bool
		)
		if req.Op == tuplespace.OpGetP {
			t, ok, err = s.space.GetP(ctx, p)
		} else {
			t, ok, err = s.space.QueryP(ctx, p)
		}
		if err != nil {
			return wire.ErrorResponse(req.ID, err)
		}
		if !ok {
			return wire.Response{ID: req.ID, Status: wire.StatusAbsent}
		}
		return wire.Response{ID: req.ID, Status: wire.StatusOK, Tuples: [][]wire.Field{wire.EncodeTuple(t)}}

	case tuplespace.OpGetAll, tuplespace.OpQueryAll:
		var ts []tuplespace.Tuple
		if req.Op == tuplespace.OpGetAll {
			ts, err = s.space.GetAll(ctx, p)
		} else {
			ts, err = s.space.QueryAll(ctx, p)
		}
		if err != nil {
			return wire.ErrorResponse(req.ID, err)
		}
		return wire.Response{ID: req.ID, Status: wire.StatusOK, Tuples: wire.EncodeTuples(ts)}
	}

	return wire.ErrorResponse(req.ID, fmt.Errorf("%w: unsupported op %q", tuplespace.ErrInvalidPattern, req.Op))
}

// restore puts back tuples a removing operation took when the response
// carrying them could not be written.
func (s *session) restore(req wire.Request, resp wire.Response) {
	if !req.Op.Removes() || resp.Status != wire.StatusOK || len(resp.Tuples) == 0 {
		return
	}
	ts, err := wire.DecodeTuples(resp.Tuples)
	if err != nil {
		s.logger.Error("failed to decode tuples to restore", LabelError.L(err))
		return
	}
	for _, t := range ts {
		if err := s.space.Put(context.Background(), t); err != nil {
			s.logger.Warn("failed to restore tuple", slog.String("tuple", t.String()), LabelError.L(err))
		}
	}
	s.reg.cfg.msink.IncrCounterWithLabels(MetricOpRestoredCount, float32(len(ts)), s.reg.labels(LabelSpace.M(s.name)))
	s.logger.Info("restored tuples after failed delivery", slog.Int("count", len(ts)), LabelOp.L(req.Op))
}

func (s *session) streamWatch(req wire.Request) {
	fail := func(err error) {
		s.conn.Send(wire.ErrorResponse(req.ID, err))
	}

	w, ok := s.space.(tuplespace.Watcher)
	if !ok {
		fail(errors.New("space does not support watch"))
		return
	}
	p, err := wire.DecodePattern(req.Pattern)
	if err != nil {
		fail(err)
		return
	}
	ch, err := w.Watch(s.ctx, p)
	if err != nil {
		fail(err)
		return
	}
	if err := s.conn.Send(wire.Response{ID: req.ID, Status: wire.StatusOK}); err != nil {
		return
	}

	labels := s.reg.labels(LabelSpace.M(s.name))
	for t := range ch {
		ev := wire.Response{ID: req.ID, Status: wire.StatusEvent, Tuples: [][]wire.Field{wire.EncodeTuple(t)}}
		if err := s.conn.Send(ev); err != nil {
			return
		}
		s.reg.cfg.msink.IncrCounterWithLabels(MetricWatchEventsCount, 1, labels)
	}
	if s.ctx.Err() == nil {
		fail(tuplespace.ErrSpaceClosed)
	}
}
