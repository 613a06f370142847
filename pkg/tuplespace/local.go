package tuplespace

import (
	"context"
	"slices"
	"sync"
)

const defaultWatchBuffer = 64

// waiter is a blocked Get or Query. ch is buffered so Put never blocks on
// delivery; done is only touched under the space lock.
type waiter struct {
	pattern Pattern
	remove  bool
	ch      chan Tuple
	done    bool
}

type watch struct {
	pattern Pattern
	ch      chan Tuple
}

type observerEntry struct {
	fn Observer
}

// LocalSpace is an in-memory multiset of tuples. All operations are
// serialized by one mutex; blocked callers queue in arrival order so that
// a stream of matching puts serves every waiter eventually.
type LocalSpace struct {
	mu          sync.Mutex
	tuples      []Tuple
	waiters     []*waiter
	watches     map[*watch]struct{}
	observers   []*observerEntry
	watchBuffer int
	closed      bool
	closeCh     chan struct{}
}

// SpaceOption configures a LocalSpace.
type SpaceOption func(*LocalSpace)

// WithObserver registers an observer at construction time.
func WithObserver(obs Observer) SpaceOption {
	return func(s *LocalSpace) {
		if obs != nil {
			s.observers = append(s.observers, &observerEntry{fn: obs})
		}
	}
}

// WithWatchBuffer sets how many notifications a slow watcher may lag
// behind before further ones are dropped.
func WithWatchBuffer(n int) SpaceOption {
	return func(s *LocalSpace) {
		if n > 0 {
			s.watchBuffer = n
		}
	}
}

// NewSpace creates an empty LocalSpace.
func NewSpace(opts ...SpaceOption) *LocalSpace {
	s := &LocalSpace{
		watches:     make(map[*watch]struct{}),
		watchBuffer: defaultWatchBuffer,
		closeCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Space = (*LocalSpace)(nil)
var _ Watcher = (*LocalSpace)(nil)

// Observe adds an observer and returns a function removing it.
func (s *LocalSpace) Observe(obs Observer) (cancel func()) {
	entry := &observerEntry{fn: obs}
	s.mu.Lock()
	s.observers = append(s.observers, entry)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.observers = slices.DeleteFunc(s.observers, func(e *observerEntry) bool { return e == entry })
		s.mu.Unlock()
	}
}

// Len returns the number of tuples currently stored.
func (s *LocalSpace) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tuples)
}

// Closed reports whether Shutdown has been called.
func (s *LocalSpace) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *LocalSpace) Put(ctx context.Context, t Tuple) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t = t.Clone()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSpaceClosed
	}

	consumed := false
	kept := s.waiters[:0]
	for i, w := range s.waiters {
		if consumed || !w.pattern.Matches(t) {
			kept = append(kept, s.waiters[i])
			continue
		}
		w.done = true
		w.ch <- t.Clone()
		if w.remove {
			consumed = true
		}
	}
	clear(s.waiters[len(kept):])
	s.waiters = kept

	if !consumed {
		s.tuples = append(s.tuples, t)
	}

	for wt := range s.watches {
		if !wt.pattern.Matches(t) {
			continue
		}
		select {
		case wt.ch <- t.Clone():
		default:
		}
	}
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	notify(observers, Event{Op: OpPut, Tuples: []Tuple{t}})
	if consumed {
		notify(observers, Event{Op: OpGet, Tuples: []Tuple{t}})
	}
	return nil
}

func (s *LocalSpace) Get(ctx context.Context, p Pattern) (Tuple, error) {
	return s.await(ctx, p, true)
}

func (s *LocalSpace) Query(ctx context.Context, p Pattern) (Tuple, error) {
	return s.await(ctx, p, false)
}

func (s *LocalSpace) GetP(ctx context.Context, p Pattern) (Tuple, bool, error) {
	return s.probe(p, true)
}

func (s *LocalSpace) QueryP(ctx context.Context, p Pattern) (Tuple, bool, error) {
	return s.probe(p, false)
}

func (s *LocalSpace) GetAll(ctx context.Context, p Pattern) ([]Tuple, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSpaceClosed
	}
	var out []Tuple
	s.tuples = slices.DeleteFunc(s.tuples, func(t Tuple) bool {
		if p.Matches(t) {
			out = append(out, t)
			return true
		}
		return false
	})
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	if len(out) > 0 {
		notify(observers, Event{Op: OpGetAll, Tuples: out})
	}
	return out, nil
}

func (s *LocalSpace) QueryAll(ctx context.Context, p Pattern) ([]Tuple, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSpaceClosed
	}
	var out []Tuple
	for _, t := range s.tuples {
		if p.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// Watch delivers a copy of every tuple put after the call that matches p.
// The watch holds a goroutine until ctx ends or the space shuts down, so
// ctx must be cancellable: a context whose Done channel is nil is refused
// with ErrWatchNotCancellable.
func (s *LocalSpace) Watch(ctx context.Context, p Pattern) (<-chan Tuple, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if ctx.Done() == nil {
		return nil, ErrWatchNotCancellable
	}
	wt := &watch{pattern: p, ch: make(chan Tuple, s.watchBuffer)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSpaceClosed
	}
	s.watches[wt] = struct{}{}
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.closeCh:
		}
		s.mu.Lock()
		if _, ok := s.watches[wt]; ok {
			delete(s.watches, wt)
			close(wt.ch)
		}
		s.mu.Unlock()
	}()
	return wt.ch, nil
}

// Shutdown releases every blocked caller with ErrSpaceClosed and closes all
// watch channels. Later operations fail with ErrSpaceClosed.
func (s *LocalSpace) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.closeCh)
	s.waiters = nil
	for wt := range s.watches {
		close(wt.ch)
	}
	clear(s.watches)
}

func (s *LocalSpace) probe(p Pattern, remove bool) (Tuple, bool, error) {
	if err := p.Validate(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false, ErrSpaceClosed
	}
	t, ok := s.take(p, remove)
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	if ok && remove {
		notify(observers, Event{Op: OpGetP, Tuples: []Tuple{t}})
	}
	return t, ok, nil
}

func (s *LocalSpace) await(ctx context.Context, p Pattern, remove bool) (Tuple, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSpaceClosed
	}
	if t, ok := s.take(p, remove); ok {
		observers := slices.Clone(s.observers)
		s.mu.Unlock()
		if remove {
			notify(observers, Event{Op: OpGet, Tuples: []Tuple{t}})
		}
		return t, nil
	}
	w := &waiter{pattern: p, remove: remove, ch: make(chan Tuple, 1)}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case t := <-w.ch:
		return t, nil
	case <-ctx.Done():
		if t, ok := s.abandon(w); ok {
			return t, nil
		}
		return nil, ctx.Err()
	case <-s.closeCh:
		if t, ok := s.abandon(w); ok {
			return t, nil
		}
		return nil, ErrSpaceClosed
	}
}

// abandon dequeues w. If a Put already served it, the delivered tuple is
// returned instead so a removal is never lost.
func (s *LocalSpace) abandon(w *waiter) (Tuple, bool) {
	s.mu.Lock()
	if w.done {
		s.mu.Unlock()
		return <-w.ch, true
	}
	s.waiters = slices.DeleteFunc(s.waiters, func(o *waiter) bool { return o == w })
	s.mu.Unlock()
	return nil, false
}

// take must be called with s.mu held.
func (s *LocalSpace) take(p Pattern, remove bool) (Tuple, bool) {
	for i, t := range s.tuples {
		if !p.Matches(t) {
			continue
		}
		if remove {
			s.tuples = slices.Delete(s.tuples, i, i+1)
			return t, true
		}
		return t.Clone(), true
	}
	return nil, false
}

func notify(observers []*observerEntry, ev Event) {
	for _, o := range observers {
		o.fn(ev)
	}
}
