package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dyluth/arena/pkg/tuplespace"
)

// RosterView receives roster snapshots. UpdatePlayerList must not block.
type RosterView interface {
	UpdatePlayerList(names []string)
}

// RosterViewFunc adapts a function to RosterView.
type RosterViewFunc func(names []string)

func (f RosterViewFunc) UpdatePlayerList(names []string) { f(names) }

// ListenMode selects how a Listener notices roster changes.
type ListenMode int

const (
	// ListenPoll repeatedly queries the name list. With no poll interval
	// it never pauses between queries.
	ListenPoll ListenMode = iota
	// ListenPush subscribes to puts of the name list. It needs a space
	// that implements tuplespace.Watcher.
	ListenPush
)

func (m ListenMode) String() string {
	if m == ListenPush {
		return "push"
	}
	return "poll"
}

// Listener mirrors the room's player name list into a RosterView. The
// view is called only when the list differs from the last delivered one,
// starting from an empty list.
type Listener struct {
	space    tuplespace.Space
	view     RosterView
	mode     ListenMode
	interval time.Duration
	logger   *slog.Logger

	last []string
}

// NewListener creates a listener. interval is the pause between polls.
func NewListener(sp tuplespace.Space, view RosterView, mode ListenMode, interval time.Duration, handler slog.Handler) *Listener {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &Listener{
		space:    sp,
		view:     view,
		mode:     mode,
		interval: interval,
		logger:   slog.New(handler).With(slog.String("component", "listener"), slog.String("mode", mode.String())),
	}
}

// Run delivers snapshots until ctx ends, which returns nil. Any other
// failure of the space ends the loop with that error.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Debug("listener started")
	defer l.logger.Debug("listener stopped")

	var err error
	if l.mode == ListenPush {
		err = l.push(ctx)
	} else {
		err = l.poll(ctx)
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Start runs the listener in the background. The returned stop function
// cancels it and waits for it to exit, returning the loop's error.
func (l *Listener) Start(ctx context.Context) (stop func() error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx)
	}()
	return func() error {
		cancel()
		return <-done
	}
}

func (l *Listener) poll(ctx context.Context) error {
	for {
		t, err := l.space.Query(ctx, namesPattern)
		if err != nil {
			return fmt.Errorf("failed to query player names: %w", err)
		}
		l.deliver(t.Strings(1))

		if l.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.interval):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (l *Listener) push(ctx context.Context) error {
	w, ok := l.space.(tuplespace.Watcher)
	if !ok {
		return errors.New("space does not support watch")
	}

	// Subscribe before the snapshot so no put falls between the two.
	events, err := w.Watch(ctx, namesPattern)
	if err != nil {
		return fmt.Errorf("failed to watch player names: %w", err)
	}
	t, found, err := l.space.QueryP(ctx, namesPattern)
	if err != nil {
		return fmt.Errorf("failed to query player names: %w", err)
	}
	if found {
		l.deliver(t.Strings(1))
	}

	for t := range events {
		l.deliver(t.Strings(1))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tuplespace.ErrSpaceClosed
}

func (l *Listener) deliver(names []string) {
	if slices.Equal(l.last, names) {
		return
	}
	l.last = names
	l.view.UpdatePlayerList(slices.Clone(names))
}
