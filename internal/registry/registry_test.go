package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/arena/internal/wire"
	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/dyluth/arena/pkg/tuplespace/remote"
	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	reg, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reg.Shutdown(ctx)
	})
	return reg
}

func openGate(t *testing.T, reg *Registry, keep bool) *Gate {
	t.Helper()
	uri := "tcp://127.0.0.1:0/"
	if keep {
		uri += "?keep"
	}
	g, err := reg.AddGate(uri)
	require.NoError(t, err)
	return g
}

// rawConn performs the handshake by hand so tests can drive the wire directly.
func rawConn(t *testing.T, port int, space string) (*wire.Conn, wire.Welcome) {
	t.Helper()
	nc, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })

	conn := wire.NewConn(nc)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.Send(wire.Hello{Space: space}))

	var welcome wire.Welcome
	require.NoError(t, conn.Receive(&welcome))
	return conn, welcome
}

func TestAddSpace(t *testing.T) {
	reg := newRegistry(t)

	require.NoError(t, reg.AddSpace("lobby", tuplespace.NewSpace()))
	require.NoError(t, reg.AddSpace("room", tuplespace.NewSpace()))

	t.Run("duplicate name", func(t *testing.T) {
		err := reg.AddSpace("room", tuplespace.NewSpace())
		assert.ErrorIs(t, err, tuplespace.ErrDuplicateName)
	})

	t.Run("invalid names", func(t *testing.T) {
		for _, name := range []string{"", "a/b", "with space", ".hidden"} {
			assert.ErrorIs(t, reg.AddSpace(name, tuplespace.NewSpace()), ErrInvalidName, name)
		}
	})

	t.Run("lookup", func(t *testing.T) {
		_, err := reg.Space("lobby")
		assert.NoError(t, err)
		_, err = reg.Space("missing")
		assert.ErrorIs(t, err, tuplespace.ErrUnknownSpace)
	})

	assert.Equal(t, []string{"lobby", "room"}, reg.Spaces())
}

func TestRemoveSpace(t *testing.T) {
	reg := newRegistry(t)
	sp := tuplespace.NewSpace()
	require.NoError(t, reg.AddSpace("room", sp))

	errCh := make(chan error, 1)
	go func() {
		_, err := sp.Get(context.Background(), tuplespace.Match("turn", tuplespace.KindInt))
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, reg.RemoveSpace("room"))
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, tuplespace.ErrSpaceClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by RemoveSpace")
	}

	assert.ErrorIs(t, reg.RemoveSpace("room"), tuplespace.ErrUnknownSpace)
	assert.Empty(t, reg.Spaces())

	// The name is free again.
	assert.NoError(t, reg.AddSpace("room", tuplespace.NewSpace()))
}

func TestHandshake(t *testing.T) {
	sink := metrics.NewInmemSink(time.Second, time.Minute)
	reg := newRegistry(t, WithMetricSink(sink))
	require.NoError(t, reg.AddSpace("lobby", tuplespace.NewSpace()))
	gate := openGate(t, reg, true)

	t.Run("known space", func(t *testing.T) {
		_, welcome := rawConn(t, gate.Port(), "lobby")
		assert.True(t, welcome.OK)
	})

	t.Run("unknown space", func(t *testing.T) {
		_, welcome := rawConn(t, gate.Port(), "room")
		assert.False(t, welcome.OK)
		assert.Equal(t, wire.CodeUnknownSpace, welcome.Code)
	})

	assert.Eventually(t, func() bool {
		return counter(sink, MetricConnErrorCount, "error=unknown_space") == 1 &&
			counter(sink, MetricConnEstCount, "space=lobby") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestGateWithoutKeepAcceptsOnce(t *testing.T) {
	reg := newRegistry(t)
	require.NoError(t, reg.AddSpace("room", tuplespace.NewSpace()))
	gate := openGate(t, reg, false)
	uri := tuplespace.SpaceURI("127.0.0.1", gate.Port(), "room")

	c, err := remote.Dial(context.Background(), uri)
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-gate.Done():
	case <-time.After(time.Second):
		t.Fatal("gate still open after first connection")
	}

	_, err = remote.Dial(context.Background(), uri, remote.WithDialTimeout(time.Second))
	assert.ErrorIs(t, err, tuplespace.ErrConnectFailed)

	// The accepted connection keeps working.
	require.NoError(t, c.Put(context.Background(), tuplespace.NewTuple(tuplespace.String("name"), tuplespace.String("alice"))))
}

func TestDroppedGetLeavesSpaceUntouched(t *testing.T) {
	reg := newRegistry(t)
	sp := tuplespace.NewSpace()
	require.NoError(t, reg.AddSpace("room", sp))
	gate := openGate(t, reg, true)

	conn, welcome := rawConn(t, gate.Port(), "room")
	require.True(t, welcome.OK)

	p := tuplespace.Match("playerNameList", tuplespace.KindStrings)
	require.NoError(t, conn.Send(wire.Request{ID: 1, Op: tuplespace.OpGet, Pattern: wire.EncodePattern(p)}))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.Close())

	require.NoError(t, sp.Put(context.Background(), tuplespace.NewTuple(tuplespace.String("playerNameList"), tuplespace.Strings("alice"))))

	assert.Eventually(t, func() bool {
		return reg.Connections() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, sp.Len())

	got, ok, err := sp.QueryP(context.Background(), p)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, got.Strings(1))
}

func TestRemovingResponseNeedsAck(t *testing.T) {
	ctx := context.Background()
	turn := tuplespace.NewTuple(tuplespace.String("turn"), tuplespace.Int(1))
	p := wire.EncodePattern(tuplespace.Match("turn", tuplespace.KindInt))

	t.Run("acknowledged", func(t *testing.T) {
		reg := newRegistry(t)
		sp := tuplespace.NewSpace()
		require.NoError(t, reg.AddSpace("room", sp))
		conn, _ := rawConn(t, openGate(t, reg, true).Port(), "room")
		require.NoError(t, sp.Put(ctx, turn))

		require.NoError(t, conn.Send(wire.Request{ID: 1, Op: tuplespace.OpGetP, Pattern: p}))
		var resp wire.Response
		require.NoError(t, conn.Receive(&resp))
		require.Equal(t, wire.StatusOK, resp.Status)
		require.NoError(t, conn.Send(wire.Request{Op: wire.OpAck, Target: 1}))

		// The next request is served, so the ack was accepted.
		require.NoError(t, conn.Send(wire.Request{ID: 2, Op: tuplespace.OpQueryP, Pattern: p}))
		resp = wire.Response{}
		require.NoError(t, conn.Receive(&resp))
		assert.Equal(t, uint64(2), resp.ID)
		assert.Equal(t, wire.StatusAbsent, resp.Status)
		assert.Zero(t, sp.Len())
	})

	t.Run("never acknowledged", func(t *testing.T) {
		sink := metrics.NewInmemSink(time.Second, time.Minute)
		reg := newRegistry(t, WithAckTimeout(50*time.Millisecond), WithMetricSink(sink))
		sp := tuplespace.NewSpace()
		require.NoError(t, reg.AddSpace("room", sp))
		conn, _ := rawConn(t, openGate(t, reg, true).Port(), "room")
		require.NoError(t, sp.Put(ctx, turn))

		require.NoError(t, conn.Send(wire.Request{ID: 1, Op: tuplespace.OpGet, Pattern: p}))
		var resp wire.Response
		require.NoError(t, conn.Receive(&resp))
		require.Equal(t, wire.StatusOK, resp.Status)

		// The registry gives up, restores the tuple and hangs up.
		assert.Eventually(t, func() bool { return sp.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
		assert.Error(t, conn.Receive(&resp))
		assert.Eventually(t, func() bool {
			return counter(sink, MetricOpRestoredCount, "space=room") == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("connection dropped after delivery", func(t *testing.T) {
		reg := newRegistry(t)
		sp := tuplespace.NewSpace()
		require.NoError(t, reg.AddSpace("room", sp))
		conn, _ := rawConn(t, openGate(t, reg, true).Port(), "room")
		require.NoError(t, sp.Put(ctx, turn))

		require.NoError(t, conn.Send(wire.Request{ID: 1, Op: tuplespace.OpGetAll, Pattern: p}))
		var resp wire.Response
		require.NoError(t, conn.Receive(&resp))
		require.Len(t, resp.Tuples, 1)
		require.NoError(t, conn.Close())

		assert.Eventually(t, func() bool { return sp.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	})
}

func TestMalformedRequestKeepsConnection(t *testing.T) {
	reg := newRegistry(t)
	require.NoError(t, reg.AddSpace("room", tuplespace.NewSpace()))
	gate := openGate(t, reg, true)

	conn, welcome := rawConn(t, gate.Port(), "room")
	require.True(t, welcome.OK)

	require.NoError(t, conn.Send(wire.Request{ID: 1, Op: tuplespace.OpQueryP, Pattern: []wire.Template{{Kind: tuplespace.KindString}}}))
	var resp wire.Response
	require.NoError(t, conn.Receive(&resp))
	assert.Equal(t, wire.StatusError, resp.Status)
	assert.Equal(t, wire.CodeBadRequest, resp.Code)

	require.NoError(t, conn.Send(wire.Request{ID: 2, Op: tuplespace.OpPut}))
	resp = wire.Response{}
	require.NoError(t, conn.Receive(&resp))
	assert.Equal(t, uint64(2), resp.ID)
	assert.Equal(t, wire.CodeBadRequest, resp.Code)

	require.NoError(t, conn.Send(wire.Request{ID: 3, Op: "RENAME", Pattern: wire.EncodePattern(tuplespace.Match("x"))}))
	resp = wire.Response{}
	require.NoError(t, conn.Receive(&resp))
	assert.Equal(t, wire.CodeBadRequest, resp.Code)

	put := tuplespace.NewTuple(tuplespace.String("turn"), tuplespace.Int(1))
	require.NoError(t, conn.Send(wire.Request{ID: 4, Op: tuplespace.OpPut, Tuple: wire.EncodeTuple(put)}))
	resp = wire.Response{}
	require.NoError(t, conn.Receive(&resp))
	assert.Equal(t, wire.StatusOK, resp.Status)
}

func TestCancelQueuedRequest(t *testing.T) {
	reg := newRegistry(t)
	require.NoError(t, reg.AddSpace("room", tuplespace.NewSpace()))
	gate := openGate(t, reg, true)

	conn, welcome := rawConn(t, gate.Port(), "room")
	require.True(t, welcome.OK)

	p := wire.EncodePattern(tuplespace.Match("turn", tuplespace.KindInt))
	require.NoError(t, conn.Send(wire.Request{ID: 1, Op: tuplespace.OpGet, Pattern: p}))
	require.NoError(t, conn.Send(wire.Request{ID: 2, Op: tuplespace.OpQuery, Pattern: p}))
	require.NoError(t, conn.Send(wire.Request{Op: wire.OpCancel, Target: 2}))
	require.NoError(t, conn.Send(wire.Request{Op: wire.OpCancel, Target: 1}))

	for _, id := range []uint64{1, 2} {
		var resp wire.Response
		require.NoError(t, conn.Receive(&resp))
		assert.Equal(t, id, resp.ID)
		assert.Equal(t, wire.CodeCanceled, resp.Code)
	}
}

func TestSpaceObserverOption(t *testing.T) {
	var got []string
	events := make(chan string, 8)
	reg := newRegistry(t, WithSpaceObserver(func(space string, ev tuplespace.Event) {
		events <- space + ":" + string(ev.Op)
	}))
	sp := tuplespace.NewSpace()
	require.NoError(t, reg.AddSpace("room", sp))

	ctx := context.Background()
	require.NoError(t, sp.Put(ctx, tuplespace.NewTuple(tuplespace.String("turn"), tuplespace.Int(1))))
	_, err := sp.Get(ctx, tuplespace.Match("turn", tuplespace.KindInt))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case e := <-events:
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatal("missing observer event")
		}
	}
	assert.Equal(t, []string{"room:PUT", "room:GET"}, got)
}

func TestOpMetrics(t *testing.T) {
	sink := metrics.NewInmemSink(time.Second, time.Minute)
	reg := newRegistry(t, WithMetricSink(sink), WithMetricLabels([]metrics.Label{{Name: "node", Value: "host"}}))
	require.NoError(t, reg.AddSpace("room", tuplespace.NewSpace()))
	gate := openGate(t, reg, true)

	c, err := remote.Dial(context.Background(), tuplespace.SpaceURI("127.0.0.1", gate.Port(), "room"))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Put(ctx, tuplespace.NewTuple(tuplespace.String("turn"), tuplespace.Int(1))))
	_, ok, err := c.GetP(ctx, tuplespace.Match("turn", tuplespace.KindInt))
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = c.GetP(ctx, tuplespace.Match("turn", tuplespace.KindInt))
	require.NoError(t, err)
	require.False(t, ok)

	assert.Equal(t, 1, counter(sink, MetricOpCount, "op=PUT"))
	assert.Equal(t, 1, counter(sink, MetricOpCount, "op=GETP", "status=ok"))
	assert.Equal(t, 1, counter(sink, MetricOpCount, "op=GETP", "status=absent"))
	assert.Equal(t, 3, counter(sink, MetricOpCount, "node=host"))
}

func TestHealthServer(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)
	require.NoError(t, reg.AddSpace("room", tuplespace.NewSpace()))
	require.NoError(t, reg.AddSpace("lobby", tuplespace.NewSpace()))

	hs := NewHealthServer(reg, "127.0.0.1:0")
	require.NoError(t, hs.Start())
	defer hs.Shutdown(context.Background())

	url := "http://" + hs.Addr().String() + "/healthz"

	resp, err := http.Get(url)
	require.NoError(t, err)
	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, []string{"lobby", "room"}, body.Spaces)

	resp, err = http.Post(url, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	require.NoError(t, reg.Shutdown(context.Background()))
	resp, err = http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestShutdownRejectsNewWork(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)
	require.NoError(t, reg.Shutdown(context.Background()))
	require.NoError(t, reg.Shutdown(context.Background()))

	assert.ErrorIs(t, reg.AddSpace("room", tuplespace.NewSpace()), ErrRegistryClosed)
	_, err = reg.AddGate("tcp://127.0.0.1:0/?keep")
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

// counter sums every counter under key whose labels contain all of want.
func counter(sink *metrics.InmemSink, key []string, want ...string) int {
	prefix := strings.Join(key, ".")
	total := 0
	for _, intv := range sink.Data() {
		intv.RLock()
		for name, v := range intv.Counters {
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			match := true
			for _, w := range want {
				if !strings.Contains(name, ";"+w) {
					match = false
				}
			}
			if match {
				total += int(v.Sum)
			}
		}
		intv.RUnlock()
	}
	return total
}
