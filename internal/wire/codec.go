package wire

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/vmihailenco/msgpack/v5"
)

// Field is the wire form of tuplespace.Field.
type Field struct {
	Kind tuplespace.Kind `msgpack:"k"`
	Str  string          `msgpack:"s,omitempty"`
	Int  int64           `msgpack:"i,omitempty"`
	Bool bool            `msgpack:"b,omitempty"`
	Blob []byte          `msgpack:"x,omitempty"`
	Strs []string        `msgpack:"ss,omitempty"`
	Ints []int64         `msgpack:"is,omitempty"`
}

// Template is the wire form of tuplespace.Template.
type Template struct {
	Formal bool            `msgpack:"f,omitempty"`
	Kind   tuplespace.Kind `msgpack:"k"`
	Value  *Field          `msgpack:"v,omitempty"`
}

func encodeField(f tuplespace.Field) Field {
	w := Field{Kind: f.Kind()}
	switch f.Kind() {
	case tuplespace.KindString:
		w.Str = f.StringValue()
	case tuplespace.KindInt:
		w.Int = f.IntValue()
	case tuplespace.KindBool:
		w.Bool = f.BoolValue()
	case tuplespace.KindBlob:
		w.Blob = f.BlobValue()
	case tuplespace.KindStrings:
		w.Strs = f.StringsValue()
	case tuplespace.KindInts:
		w.Ints = f.IntsValue()
	}
	return w
}

func decodeField(w Field) (tuplespace.Field, error) {
	switch w.Kind {
	case tuplespace.KindString:
		return tuplespace.String(w.Str), nil
	case tuplespace.KindInt:
		return tuplespace.Int(w.Int), nil
	case tuplespace.KindBool:
		return tuplespace.Bool(w.Bool), nil
	case tuplespace.KindBlob:
		return tuplespace.Blob(w.Blob), nil
	case tuplespace.KindStrings:
		return tuplespace.Strings(w.Strs...), nil
	case tuplespace.KindInts:
		return tuplespace.Ints(w.Ints...), nil
	}
	return tuplespace.Field{}, fmt.Errorf("%w: unknown field kind %d", tuplespace.ErrInvalidTuple, w.Kind)
}

// EncodeTuple converts a tuple to its wire form.
func EncodeTuple(t tuplespace.Tuple) []Field {
	out := make([]Field, len(t))
	for i, f := range t {
		out[i] = encodeField(f)
	}
	return out
}

// DecodeTuple converts and validates a wire tuple.
func DecodeTuple(w []Field) (tuplespace.Tuple, error) {
	t := make(tuplespace.Tuple, len(w))
	for i, wf := range w {
		f, err := decodeField(wf)
		if err != nil {
			return nil, err
		}
		t[i] = f
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// EncodeTuples converts a tuple batch.
func EncodeTuples(ts []tuplespace.Tuple) [][]Field {
	out := make([][]Field, len(ts))
	for i, t := range ts {
		out[i] = EncodeTuple(t)
	}
	return out
}

// DecodeTuples converts a tuple batch.
func DecodeTuples(ws [][]Field) ([]tuplespace.Tuple, error) {
	out := make([]tuplespace.Tuple, 0, len(ws))
	for _, w := range ws {
		t, err := DecodeTuple(w)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// EncodePattern converts a pattern to its wire form.
func EncodePattern(p tuplespace.Pattern) []Template {
	out := make([]Template, len(p))
	for i, tp := range p {
		wt := Template{Formal: tp.IsFormal(), Kind: tp.Kind()}
		if !tp.IsFormal() {
			v := encodeField(tp.Value())
			wt.Value = &v
		}
		out[i] = wt
	}
	return out
}

// DecodePattern converts and validates a wire pattern.
func DecodePattern(w []Template) (tuplespace.Pattern, error) {
	p := make(tuplespace.Pattern, len(w))
	for i, wt := range w {
		if wt.Formal {
			p[i] = tuplespace.Formal(wt.Kind)
			continue
		}
		if wt.Value == nil {
			return nil, fmt.Errorf("%w: position %d has neither kind nor value", tuplespace.ErrInvalidPattern, i)
		}
		f, err := decodeField(*wt.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", tuplespace.ErrInvalidPattern, err)
		}
		p[i] = tuplespace.Actual(f)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Conn frames msgpack values over a net.Conn. Send is safe for concurrent
// use; Receive must only be called from one goroutine.
type Conn struct {
	raw net.Conn
	bw  *bufio.Writer
	enc *msgpack.Encoder
	dec *msgpack.Decoder
	wmu sync.Mutex
}

// NewConn wraps c.
func NewConn(c net.Conn) *Conn {
	bw := bufio.NewWriter(c)
	return &Conn{
		raw: c,
		bw:  bw,
		enc: msgpack.NewEncoder(bw),
		dec: msgpack.NewDecoder(bufio.NewReader(c)),
	}
}

// Send encodes v and flushes it to the peer.
func (c *Conn) Send(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.enc.Encode(v); err != nil {
		return err
	}
	return c.bw.Flush()
}

// Receive decodes the next frame into v.
func (c *Conn) Receive(v any) error {
	return c.dec.Decode(v)
}

// SetDeadline applies to both directions; the zero time clears it.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.raw.SetDeadline(t)
}

func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

func (c *Conn) LocalAddr() net.Addr { return c.raw.LocalAddr() }

func (c *Conn) Close() error { return c.raw.Close() }
