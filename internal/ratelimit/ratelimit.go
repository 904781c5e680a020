// Package ratelimit provides a sliding-window request limiter keyed by
// client identity. The Redis implementation shares its counters across
// handler instances; the in-memory one is for development and tests.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter answers whether one more request from clientKey fits in the
// window. Overflow returns false without mutating state further.
type Limiter interface {
	Allow(ctx context.Context, clientKey string) (bool, error)
}

// RedisLimiter counts requests in a Redis sorted set per client, scored and
// pruned by timestamp, so every process sees a consistent sliding window.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, limit: int64(limit), window: window}
}

func (r *RedisLimiter) Allow(ctx context.Context, clientKey string) (bool, error) {
	key := r.prefix + clientKey
	now := time.Now()
	cutoff := strconv.FormatInt(now.Add(-r.window).UnixNano(), 10)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", cutoff)
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	if card.Val() >= r.limit {
		return false, nil
	}

	pipe = r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, key, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// MemoryLimiter is a per-process sliding window with the same semantics.
type MemoryLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, clientKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.window)

	kept := m.hits[clientKey][:0]
	for _, t := range m.hits[clientKey] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= m.limit {
		m.hits[clientKey] = kept
		return false, nil
	}
	m.hits[clientKey] = append(kept, now)
	return true, nil
}
