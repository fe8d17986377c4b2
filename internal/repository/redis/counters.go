package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
)

// CounterConfig configures the fixed-window counter store.
type CounterConfig struct {
	KeyPrefix string
}

// CounterStore keeps fixed-window counters in Redis, one key per
// (subject, endpoint, window start). INCR carries the atomicity; EXPIRE keeps
// the keyspace bounded without a pruning job. Serves the hot unauthenticated
// IP path; tier quotas live in the durable store.
type CounterStore struct {
	client *redis.Client
	cfg    CounterConfig
}

// NewCounterStore constructs a store using the provided Redis client.
func NewCounterStore(client *redis.Client, cfg CounterConfig) *CounterStore {
	return &CounterStore{client: client, cfg: cfg}
}

// Peek returns the current count for the window without recording anything.
func (s *CounterStore) Peek(ctx context.Context, subject string, endpoint domain.EndpointClass, windowStart time.Time) (int, error) {
	count, err := s.client.Get(ctx, s.key(subject, endpoint, windowStart)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get: %w", err)
	}

	return count, nil
}

// Increment records one request and returns the post-increment count. The key
// expires two windows after its bucket started so a late Peek still sees it.
func (s *CounterStore) Increment(ctx context.Context, subject string, endpoint domain.EndpointClass, windowStart time.Time, windowSize time.Duration) (int, error) {
	key := s.key(subject, endpoint, windowStart)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, windowStart.Add(2*windowSize))

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}

	return int(incr.Val()), nil
}

// PruneBefore is a no-op: key TTLs reclaim expired windows.
func (s *CounterStore) PruneBefore(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *CounterStore) key(subject string, endpoint domain.EndpointClass, windowStart time.Time) string {
	if s.cfg.KeyPrefix == "" {
		return fmt.Sprintf("rate:%s:%s:%d", subject, endpoint, windowStart.Unix())
	}
	return fmt.Sprintf("%s:rate:%s:%s:%d", s.cfg.KeyPrefix, subject, endpoint, windowStart.Unix())
}

var _ port.CounterStore = (*CounterStore)(nil)
