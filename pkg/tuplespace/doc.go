// Package tuplespace provides the associative memory the arena game uses to
// coordinate players: a multiset of typed tuples selected by patterns.
//
// # Core Concepts
//
// A Tuple is an ordered list of typed fields (string, int, bool, blob and the
// aggregate string/int lists). A Pattern has the same arity; each position is
// either an Actual value, which must be equal, or a Formal kind, which only
// has to agree on the field's kind.
//
// A Space stores tuples and offers:
//
//   - Put: insert, never blocks.
//   - Get / Query: block until a match exists; Get removes it.
//   - GetP / QueryP: the non-blocking variants.
//   - GetAll / QueryAll: every current match, without blocking.
//
// LocalSpace is the in-process implementation. The remote package exposes the
// same interface over TCP, so protocol code runs unchanged against either.
//
// # Usage Example
//
//	space := tuplespace.NewSpace()
//	_ = space.Put(ctx, tuplespace.NewTuple(tuplespace.String("name"), tuplespace.String("alice")))
//
//	t, err := space.Query(ctx, tuplespace.Match("name", tuplespace.KindString))
//	if err != nil {
//		return err
//	}
//	fmt.Println(t.Str(1)) // alice
//
// # Concurrency
//
// Every LocalSpace operation is linearized by the space itself. Multi-step
// read-modify-write sequences (Get, change, Put) are not atomic and need
// coordination by the caller; see the session package's roster lock.
package tuplespace
