package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Subscription represents an active Pub/Sub subscription to journal entries.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan Entry
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of journal entries.
func (s *Subscription) Events() <-chan Entry {
	return s.events
}

// Errors returns the channel of subscription errors.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe follows the entries of one space, or of every space when space
// is empty. Context cancellation also stops the subscription.
//
// Delivery is at-most-once: entries published while nobody is subscribed
// are only available through History.
func (j *Journal) Subscribe(ctx context.Context, space string) (*Subscription, error) {
	var pubsub *redis.PubSub
	if space == "" {
		pubsub = j.rdb.PSubscribe(ctx, AllSpaceEventsPattern(j.instance))
	} else {
		pubsub = j.rdb.Subscribe(ctx, SpaceEventsChannel(j.instance, space))
	}

	// Wait for the subscription to be confirmed so no entry published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	eventsChan := make(chan Entry, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var entry Entry
				if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal journal entry: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- entry:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
