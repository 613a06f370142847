package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTupleRoundTrip(t *testing.T) {
	original := tuplespace.NewTuple(
		tuplespace.String("game"),
		tuplespace.Int(-42),
		tuplespace.Bool(true),
		tuplespace.Blob([]byte{0x00, 0xff, 0x10}),
		tuplespace.Strings("alice", "bob"),
		tuplespace.Ints(1, 2, 3),
	)

	decoded, err := DecodeTuple(EncodeTuple(original))
	require.NoError(t, err)
	assert.True(t, original.Equal(decoded))
	assert.Equal(t, original.Blob(3), decoded.Blob(3))
}

func TestPatternRoundTrip(t *testing.T) {
	original := tuplespace.NewPattern(
		tuplespace.Actual(tuplespace.String("state")),
		tuplespace.Formal(tuplespace.KindInt),
		tuplespace.Actual(tuplespace.Strings("a")),
	)

	decoded, err := DecodePattern(EncodePattern(original))
	require.NoError(t, err)
	assert.Equal(t, original.String(), decoded.String())

	tup := tuplespace.NewTuple(tuplespace.String("state"), tuplespace.Int(3), tuplespace.Strings("a"))
	assert.True(t, decoded.Matches(tup))
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	t.Run("unknown field kind", func(t *testing.T) {
		_, err := DecodeTuple([]Field{{Kind: 99}})
		assert.ErrorIs(t, err, tuplespace.ErrInvalidTuple)
	})

	t.Run("empty tuple", func(t *testing.T) {
		_, err := DecodeTuple(nil)
		assert.ErrorIs(t, err, tuplespace.ErrInvalidTuple)
	})

	t.Run("actual without value", func(t *testing.T) {
		_, err := DecodePattern([]Template{{Kind: tuplespace.KindString}})
		assert.ErrorIs(t, err, tuplespace.ErrInvalidPattern)
	})

	t.Run("formal without kind", func(t *testing.T) {
		_, err := DecodePattern([]Template{{Formal: true}})
		assert.ErrorIs(t, err, tuplespace.ErrInvalidPattern)
	})
}

func TestConnSendReceive(t *testing.T) {
	a, b := net.Pipe()
	ca, cb := NewConn(a), NewConn(b)
	defer ca.Close()
	defer cb.Close()

	req := Request{
		ID:      7,
		Op:      tuplespace.OpQuery,
		Pattern: EncodePattern(tuplespace.Match("name", tuplespace.KindString)),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- ca.Send(req) }()

	var got Request
	require.NoError(t, cb.Receive(&got))
	require.NoError(t, <-errCh)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, req.Op, got.Op)

	p, err := DecodePattern(got.Pattern)
	require.NoError(t, err)
	assert.Equal(t, "<\"name\", ?str>", p.String())
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code Code
	}{
		{tuplespace.ErrUnknownSpace, CodeUnknownSpace},
		{tuplespace.ErrSpaceClosed, CodeSpaceClosed},
		{context.Canceled, CodeCanceled},
		{context.DeadlineExceeded, CodeCanceled},
		{tuplespace.ErrInvalidPattern, CodeBadRequest},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.code, CodeOf(tt.err))
		})
	}

	resp := ErrorResponse(3, tuplespace.ErrSpaceClosed)
	assert.ErrorIs(t, resp.Err(), tuplespace.ErrSpaceClosed)
	assert.ErrorIs(t, Response{Status: StatusError}.Err(), tuplespace.ErrRemoteFailure)
	assert.NoError(t, Response{Status: StatusOK}.Err())
}

func TestErrorMessageNotDuplicated(t *testing.T) {
	err := fmt.Errorf("%w: %q", tuplespace.ErrUnknownSpace, "lobby")
	resp := ErrorResponse(1, err)

	got := resp.Err()
	assert.ErrorIs(t, got, tuplespace.ErrUnknownSpace)
	assert.Equal(t, `tuplespace: unknown space: "lobby"`, got.Error())

	// A message that does not carry the sentinel is kept whole.
	got = CodeInternal.Err("disk on fire")
	assert.Equal(t, tuplespace.ErrRemoteFailure.Error()+": disk on fire", got.Error())

	assert.Equal(t, tuplespace.ErrSpaceClosed, CodeSpaceClosed.Err(tuplespace.ErrSpaceClosed.Error()))
}

func TestNeedsAck(t *testing.T) {
	one := [][]Field{EncodeTuple(tuplespace.NewTuple(tuplespace.String("turn"), tuplespace.Int(1)))}

	assert.True(t, NeedsAck(tuplespace.OpGet, Response{Status: StatusOK, Tuples: one}))
	assert.True(t, NeedsAck(tuplespace.OpGetP, Response{Status: StatusOK, Tuples: one}))
	assert.True(t, NeedsAck(tuplespace.OpGetAll, Response{Status: StatusOK, Tuples: one}))
	assert.False(t, NeedsAck(tuplespace.OpGetAll, Response{Status: StatusOK}), "nothing removed")
	assert.False(t, NeedsAck(tuplespace.OpGetP, Response{Status: StatusAbsent}))
	assert.False(t, NeedsAck(tuplespace.OpQuery, Response{Status: StatusOK, Tuples: one}))
	assert.False(t, NeedsAck(tuplespace.OpGet, Response{Status: StatusError, Code: CodeCanceled}))
}
