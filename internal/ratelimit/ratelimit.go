// Package ratelimit counts requests per client key in fixed windows.
//
// The Store interface keeps call sites independent of where counters live:
// MemoryStore is process-local and is only correct for a single instance,
// RedisStore shares counters between instances.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Store counts hits per key within a window.
type Store interface {
	// Increment records a hit and returns the count in the current window and
	// when that window ends. The first hit opens a new window.
	Increment(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)
	// Reset clears the counter for key.
	Reset(ctx context.Context, key string) error
	// IsLimited reports whether key already reached limit in the current window.
	IsLimited(ctx context.Context, key string, limit int) (bool, error)
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps counters in process memory. Expired windows are evicted by
// go-cache's janitor.
type MemoryStore struct {
	mu    sync.Mutex
	items *gocache.Cache
	now   func() time.Time
}

// NewMemoryStore creates a MemoryStore; cleanup is the eviction interval.
func NewMemoryStore(cleanup time.Duration) *MemoryStore {
	return &MemoryStore{items: gocache.New(gocache.NoExpiration, cleanup), now: time.Now}
}

func (m *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	wc := windowCounter{resetAt: now.Add(window)}
	if v, ok := m.items.Get(key); ok {
		if cur := v.(windowCounter); now.Before(cur.resetAt) {
			wc = cur
		}
	}
	wc.count++
	m.items.Set(key, wc, wc.resetAt.Sub(now))
	return wc.count, wc.resetAt, nil
}

func (m *MemoryStore) Reset(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

func (m *MemoryStore) IsLimited(_ context.Context, key string, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.items.Get(key)
	if !ok {
		return false, nil
	}
	wc := v.(windowCounter)
	return m.now().Before(wc.resetAt) && wc.count >= limit, nil
}

// RedisStore keeps counters in Redis so every instance sees the same window.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore; keys are stored under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// incrScript increments the counter and starts the window on the first hit.
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

func (r *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	res, err := incrScript.Run(ctx, r.client, []string{r.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("rate limit increment %q: %w", key, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("rate limit increment %q: unexpected reply %v", key, res)
	}
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl < 0 {
		ttl = window
	}
	return int(res[0]), time.Now().Add(ttl), nil
}

func (r *RedisStore) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("rate limit reset %q: %w", key, err)
	}
	return nil
}

func (r *RedisStore) IsLimited(ctx context.Context, key string, limit int) (bool, error) {
	n, err := r.client.Get(ctx, r.prefix+key).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rate limit lookup %q: %w", key, err)
	}
	return n >= limit, nil
}

// Limiter applies a fixed limit per window on top of a Store.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

// Decision is the outcome of Allow.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// NewLimiter allows limit hits per window for each key.
func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

// Allow records a hit for key and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, resetAt, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return Decision{}, err
	}
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
