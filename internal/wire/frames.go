// Package wire defines the frames exchanged between a space registry and its
// remote clients, and the msgpack codec that carries them over a stream.
package wire

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dyluth/arena/pkg/tuplespace"
)

// Control operations that exist only on the wire.
const (
	// OpCancel aborts the in-flight blocking request whose ID is Target.
	OpCancel tuplespace.Op = "CANCEL"
	// OpWatch turns the connection into a stream of StatusEvent responses.
	OpWatch tuplespace.Op = "WATCH"
	// OpAck confirms receipt of the removing response whose ID is Target.
	// Until it arrives the registry may still put the tuples back.
	OpAck tuplespace.Op = "ACK"
)

// Status of a Response.
type Status string

const (
	StatusOK     Status = "ok"
	StatusAbsent Status = "absent"
	StatusError  Status = "error"
	StatusEvent  Status = "event"
)

// Code classifies a StatusError response or a rejected handshake.
type Code string

const (
	CodeUnknownSpace Code = "unknown_space"
	CodeSpaceClosed  Code = "space_closed"
	CodeCanceled     Code = "canceled"
	CodeBadRequest   Code = "bad_request"
	CodeInternal     Code = "internal"
)

// Hello is the first frame a client sends.
type Hello struct {
	Space string `msgpack:"space"`
}

// Welcome answers Hello.
type Welcome struct {
	OK      bool   `msgpack:"ok"`
	Code    Code   `msgpack:"code,omitempty"`
	Message string `msgpack:"msg,omitempty"`
}

// Request carries one space operation.
type Request struct {
	ID      uint64        `msgpack:"id"`
	Op      tuplespace.Op `msgpack:"op"`
	Tuple   []Field       `msgpack:"tuple,omitempty"`
	Pattern []Template    `msgpack:"pattern,omitempty"`
	Target  uint64        `msgpack:"target,omitempty"`
}

// Response answers the Request with the same ID. Watch streams reuse the
// watch request's ID for every event.
type Response struct {
	ID      uint64    `msgpack:"id"`
	Status  Status    `msgpack:"status"`
	Tuples  [][]Field `msgpack:"tuples,omitempty"`
	Code    Code      `msgpack:"code,omitempty"`
	Message string    `msgpack:"msg,omitempty"`
}

// ErrorResponse builds a StatusError response for err.
func ErrorResponse(id uint64, err error) Response {
	return Response{ID: id, Status: StatusError, Code: CodeOf(err), Message: err.Error()}
}

// CodeOf maps an operation error to its wire code.
func CodeOf(err error) Code {
	switch {
	case errors.Is(err, tuplespace.ErrUnknownSpace):
		return CodeUnknownSpace
	case errors.Is(err, tuplespace.ErrSpaceClosed):
		return CodeSpaceClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	case errors.Is(err, tuplespace.ErrInvalidTuple), errors.Is(err, tuplespace.ErrInvalidPattern):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// Err converts an error code back to the sentinel the caller can test with
// errors.Is. It returns nil for an empty code.
func (c Code) Err(msg string) error {
	var base error
	switch c {
	case "":
		return nil
	case CodeUnknownSpace:
		base = tuplespace.ErrUnknownSpace
	case CodeSpaceClosed:
		base = tuplespace.ErrSpaceClosed
	case CodeCanceled:
		base = context.Canceled
	case CodeBadRequest:
		base = tuplespace.ErrInvalidPattern
	default:
		base = tuplespace.ErrRemoteFailure
	}
	// Messages built from a wrapped sentinel already start with its text.
	msg = strings.TrimPrefix(strings.TrimPrefix(msg, base.Error()), ": ")
	if msg == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, msg)
}

// NeedsAck reports whether the client must acknowledge r before the
// registry considers the tuples it carries delivered.
func NeedsAck(op tuplespace.Op, r Response) bool {
	return op.Removes() && r.Status == StatusOK && len(r.Tuples) > 0
}

// Err returns the error carried by a StatusError response.
func (r Response) Err() error {
	if r.Status != StatusError {
		return nil
	}
	code := r.Code
	if code == "" {
		code = CodeInternal
	}
	return code.Err(r.Message)
}
