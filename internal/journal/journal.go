// Package journal mirrors tuple space mutations to Redis so operators can
// follow a running arena from outside the game process.
//
// Every mutation becomes an Entry that is published on the space's Pub/Sub
// channel and pushed onto a capped history list. Publishing is asynchronous:
// the space operation that caused the entry never waits for Redis, and
// entries are dropped when the buffer is full.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultBuffer  = 256
	defaultHistory = 200
)

// Entry is one journaled mutation.
type Entry struct {
	ID       string    `json:"id"`
	Instance string    `json:"instance"`
	Space    string    `json:"space"`
	Op       string    `json:"op"`
	Tuples   []string  `json:"tuples"`
	At       time.Time `json:"at"`
}

// Validate checks the fields every entry must carry.
func (e *Entry) Validate() error {
	if e.ID == "" {
		return errors.New("entry id is required")
	}
	if e.Space == "" {
		return errors.New("entry space is required")
	}
	if e.Op == "" {
		return errors.New("entry op is required")
	}
	return nil
}

// Option configures a Journal.
type Option func(*Journal)

// WithLog specifies which slog.Handler to use.
func WithLog(handler slog.Handler) Option {
	return func(j *Journal) {
		j.logger = slog.New(handler).With(slog.String("component", "journal"))
	}
}

// WithBuffer sets how many entries may wait for Redis before new ones are
// dropped.
func WithBuffer(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.buffer = n
		}
	}
}

// WithHistory caps the per-space history list.
func WithHistory(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.history = n
		}
	}
}

// Journal publishes space mutations for one arena instance.
type Journal struct {
	rdb      *redis.Client
	instance string
	logger   *slog.Logger
	buffer   int
	history  int

	mu      sync.RWMutex
	queue   chan Entry
	closed  bool
	dropped uint64
	wg      sync.WaitGroup
}

// New creates a journal for the named instance and starts its publisher.
// Returns an error if instance is empty.
func New(redisOpts *redis.Options, instance string, opts ...Option) (*Journal, error) {
	if err := ValidateInstance(instance); err != nil {
		return nil, err
	}

	j := &Journal{
		rdb:      redis.NewClient(redisOpts),
		instance: instance,
		logger:   slog.Default().With(slog.String("component", "journal")),
		buffer:   defaultBuffer,
		history:  defaultHistory,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.queue = make(chan Entry, j.buffer)

	j.wg.Add(1)
	go j.publishLoop()
	return j, nil
}

// NewFromURL parses a redis:// URL and calls New.
func NewFromURL(url, instance string, opts ...Option) (*Journal, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return New(redisOpts, instance, opts...)
}

// Ping verifies Redis connectivity.
func (j *Journal) Ping(ctx context.Context) error {
	return j.rdb.Ping(ctx).Err()
}

// Instance returns the namespace this journal writes under.
func (j *Journal) Instance() string {
	return j.instance
}

// Dropped returns how many entries were discarded because the buffer was full.
func (j *Journal) Dropped() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.dropped
}

// Record queues a mutation of space. It never blocks. Its signature matches
// the registry's space observer so it can be passed directly.
func (j *Journal) Record(space string, ev tuplespace.Event) {
	entry := Entry{
		ID:       uuid.NewString(),
		Instance: j.instance,
		Space:    space,
		Op:       string(ev.Op),
		Tuples:   make([]string, len(ev.Tuples)),
		At:       time.Now().UTC(),
	}
	for i, t := range ev.Tuples {
		entry.Tuples[i] = t.String()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- entry:
	default:
		j.dropped++
		j.logger.Warn("journal buffer full, dropping entry", slog.String("space", space), slog.String("op", entry.Op))
	}
}

// Close publishes queued entries and closes the Redis connection.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	j.wg.Wait()
	return j.rdb.Close()
}

func (j *Journal) publishLoop() {
	defer j.wg.Done()
	for entry := range j.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := j.write(ctx, entry); err != nil {
			j.logger.Warn("failed to journal entry", slog.String("space", entry.Space), slog.Any("error", err))
		}
		cancel()
	}
}

// write stores and publishes one entry. The history list, its trim and the
// space directory update are applied in one transaction.
func (j *Journal) write(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	historyKey := SpaceHistoryKey(j.instance, entry.Space)
	_, err = j.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, SpacesKey(j.instance), entry.Space)
		pipe.LPush(ctx, historyKey, payload)
		pipe.LTrim(ctx, historyKey, 0, int64(j.history-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write entry to Redis: %w", err)
	}

	if err := j.rdb.Publish(ctx, SpaceEventsChannel(j.instance, entry.Space), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish entry: %w", err)
	}
	return nil
}

// Spaces returns every space that has journaled at least one entry.
func (j *Journal) Spaces(ctx context.Context) ([]string, error) {
	names, err := j.rdb.SMembers(ctx, SpacesKey(j.instance)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read space directory: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

// History returns up to limit of the most recent entries for space, newest
// first. A limit of zero or less returns the whole retained history.
func (j *Journal) History(ctx context.Context, space string, limit int) ([]Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := j.rdb.LRange(ctx, SpaceHistoryKey(j.instance, space), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
