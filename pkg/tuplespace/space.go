package tuplespace

import "context"

// Op names a space operation. The same names are used on the wire.
type Op string

const (
	OpPut      Op = "PUT"
	OpGet      Op = "GET"
	OpQuery    Op = "QUERY"
	OpGetP     Op = "GETP"
	OpQueryP   Op = "QUERYP"
	OpGetAll   Op = "GETALL"
	OpQueryAll Op = "QUERYALL"
)

// Removes reports whether the operation takes tuples out of the space.
func (op Op) Removes() bool {
	return op == OpGet || op == OpGetP || op == OpGetAll
}

// Space is the associative store seen by protocol code. LocalSpace and the
// remote client both implement it, so callers never care where tuples live.
//
// Get and Query block until a match exists, ctx ends, or the space closes.
// The P variants never block: ok is false when nothing matched.
type Space interface {
	Put(ctx context.Context, t Tuple) error
	Get(ctx context.Context, p Pattern) (Tuple, error)
	Query(ctx context.Context, p Pattern) (Tuple, error)
	GetP(ctx context.Context, p Pattern) (t Tuple, ok bool, err error)
	QueryP(ctx context.Context, p Pattern) (t Tuple, ok bool, err error)
	GetAll(ctx context.Context, p Pattern) ([]Tuple, error)
	QueryAll(ctx context.Context, p Pattern) ([]Tuple, error)
}

// Watcher is implemented by spaces able to push future puts of matching
// tuples. The channel is closed when ctx ends or the source goes away, so
// callers pass a context they cancel once they stop reading.
type Watcher interface {
	Watch(ctx context.Context, p Pattern) (<-chan Tuple, error)
}

// Event describes one mutation applied to a LocalSpace.
type Event struct {
	Op     Op
	Tuples []Tuple
}

// Observer is notified after every mutation, outside the space lock.
// It must not call back into the same space synchronously.
type Observer func(Event)
