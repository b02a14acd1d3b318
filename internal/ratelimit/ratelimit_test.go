package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(time.Minute)
	s.now = clock.Now
	return s, clock
}

func TestMemoryStoreWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := newTestStore()

	for i := 1; i <= 3; i++ {
		n, resetAt, err := s.Increment(ctx, "client-a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
		assert.Equal(t, clock.Now().Add(time.Minute), resetAt, "window starts at first hit")
	}

	limited, err := s.IsLimited(ctx, "client-a", 3)
	require.NoError(t, err)
	assert.True(t, limited)

	limited, err = s.IsLimited(ctx, "client-b", 3)
	require.NoError(t, err)
	assert.False(t, limited)

	clock.Advance(time.Minute)
	limited, err = s.IsLimited(ctx, "client-a", 3)
	require.NoError(t, err)
	assert.False(t, limited, "window expired")

	n, _, err := s.Increment(ctx, "client-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "new window after expiry")
}

func TestMemoryStoreReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore()

	_, _, err := s.Increment(ctx, "client-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx, "client-a"))

	n, _, err := s.Increment(ctx, "client-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLimiterAllow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := newTestStore()
	l := NewLimiter(s, 2, time.Minute)

	d, err := l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	d, err = l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 2, d.Limit)
	assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = s.Increment(ctx, "shared", time.Minute)
		}()
	}
	wg.Wait()

	n, _, err := s.Increment(ctx, "shared", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 51, n)
}
