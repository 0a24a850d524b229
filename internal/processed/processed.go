// Package processed remembers which messages were fully ingested, in addition
// to the mailbox's own flag or label. This keeps a message from being
// ingested twice when marking it in the mailbox failed, or when the mailbox
// flag is removed by another client.
package processed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/castlemilk/inboxledger/backend/internal/mail"
)

const (
	// DefaultTTL is how long a processed message id is remembered.
	DefaultTTL = 90 * 24 * time.Hour

	keyPrefix = "inboxledger:processed:"
)

// Tracker records processed message ids.
type Tracker interface {
	IsProcessed(ctx context.Context, id string) (bool, error)
	MarkProcessed(ctx context.Context, id string) error
}

// RedisTracker keeps processed ids as Redis keys with a TTL.
type RedisTracker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisTracker creates a tracker backed by Redis. A ttl of 0 uses DefaultTTL.
func NewRedisTracker(rdb *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{rdb: rdb, ttl: ttl}
}

// NewRedisTrackerFromURL parses a redis:// URL and connects.
func NewRedisTrackerFromURL(ctx context.Context, url string, ttl time.Duration) (*RedisTracker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisTracker(rdb, ttl), nil
}

func (t *RedisTracker) IsProcessed(ctx context.Context, id string) (bool, error) {
	n, err := t.rdb.Exists(ctx, keyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("processed EXISTS: %w", err)
	}
	return n > 0, nil
}

func (t *RedisTracker) MarkProcessed(ctx context.Context, id string) error {
	if err := t.rdb.Set(ctx, keyPrefix+id, time.Now().UTC().Unix(), t.ttl).Err(); err != nil {
		return fmt.Errorf("processed SET: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (t *RedisTracker) Close() error {
	return t.rdb.Close()
}

// MemoryTracker is a Tracker for tests and single-process runs.
type MemoryTracker struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewMemoryTracker creates an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{ids: make(map[string]struct{})}
}

func (t *MemoryTracker) IsProcessed(_ context.Context, id string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ids[id]
	return ok, nil
}

func (t *MemoryTracker) MarkProcessed(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids[id] = struct{}{}
	return nil
}

// Source filters a mail.Source through a Tracker. Tracker failures are
// logged and never fail the wrapped call.
type Source struct {
	mail.Source
	tracker Tracker
}

// Wrap layers tracker over src.
func Wrap(src mail.Source, tracker Tracker) *Source {
	return &Source{Source: src, tracker: tracker}
}

// ListUnprocessed drops ids the tracker has already seen.
func (s *Source) ListUnprocessed(ctx context.Context) ([]string, error) {
	ids, err := s.Source.ListUnprocessed(ctx)
	if err != nil {
		return nil, err
	}

	out := ids[:0]
	for _, id := range ids {
		seen, err := s.tracker.IsProcessed(ctx, id)
		if err != nil {
			slog.Warn("processed lookup failed, keeping message", "message_id", id, "error", err)
		}
		if seen {
			slog.Debug("skipping message already processed", "message_id", id)
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// MarkProcessed marks the message in the tracker and in the wrapped source.
// The tracker is written even if the source fails, so the message is not
// ingested again; the source error is still returned.
func (s *Source) MarkProcessed(ctx context.Context, id string) error {
	if err := s.tracker.MarkProcessed(ctx, id); err != nil {
		slog.Warn("failed to record processed message", "message_id", id, "error", err)
	}
	return s.Source.MarkProcessed(ctx, id)
}
