package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/apietl/internal/domain"

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

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC)}
}

func TestAcquireSpacesConcurrentCallers(t *testing.T) {
	limiter := New(Config{MaxPerSecond: 4, DailyLimit: 100, Location: time.UTC})

	const callers, perCaller = 3, 2
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				assert.NoError(t, limiter.Acquire(context.Background()))
			}
		}()
	}
	wg.Wait()

	// Burst of one: N calls need at least (N-1)/4 seconds.
	assert.GreaterOrEqual(t, time.Since(start), 1200*time.Millisecond)
	assert.Equal(t, callers*perCaller, limiter.Used())
}

func TestTryAcquireStopsAtDailyLimit(t *testing.T) {
	clock := newClock()
	limiter := New(Config{MaxPerSecond: 1000, DailyLimit: 3, Location: time.UTC}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.TryAcquire(context.Background()))
	}
	err := limiter.TryAcquire(context.Background())
	assert.True(t, errors.Is(err, domain.ErrRateLimitExceeded))
	assert.True(t, limiter.Exhausted())
	assert.Equal(t, 0, limiter.Remaining())
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), limiter.ResetAt())
}

func TestDailyQuotaResetsOncePerBoundary(t *testing.T) {
	clock := newClock()
	limiter := New(Config{MaxPerSecond: 1000, DailyLimit: 2, Location: time.UTC}, WithClock(clock.Now))

	require.NoError(t, limiter.TryAcquire(context.Background()))
	require.NoError(t, limiter.TryAcquire(context.Background()))
	require.True(t, limiter.Exhausted())

	clock.Advance(2*time.Hour + time.Second)
	assert.Equal(t, 2, limiter.Remaining())
	require.NoError(t, limiter.TryAcquire(context.Background()))

	// Reading state again in the same window must not reset the counter.
	assert.Equal(t, 1, limiter.Used())
	assert.Equal(t, time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC), limiter.ResetAt())
}

func TestAcquireWaitsForQuotaAndHonoursCancellation(t *testing.T) {
	clock := newClock()
	limiter := New(Config{MaxPerSecond: 1000, DailyLimit: 1, QuotaPollInterval: time.Hour, Location: time.UTC}, WithClock(clock.Now))
	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := limiter.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquireResumesAfterMidnight(t *testing.T) {
	clock := newClock()
	limiter := New(Config{MaxPerSecond: 1000, DailyLimit: 1, QuotaPollInterval: 5 * time.Millisecond, Location: time.UTC}, WithClock(clock.Now))
	require.NoError(t, limiter.Acquire(context.Background()))

	done := make(chan error, 1)
	go func() { done <- limiter.Acquire(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	clock.Advance(3 * time.Hour)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not resume after the daily reset")
	}
	assert.Equal(t, 1, limiter.Used())
}

func TestFailedPacingRefundsTheRequest(t *testing.T) {
	limiter := New(Config{MaxPerSecond: 0.5, DailyLimit: 10, Location: time.UTC})
	require.NoError(t, limiter.TryAcquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.TryAcquire(ctx))
	assert.Equal(t, 1, limiter.Used())
}

type memoryStore struct {
	mu   sync.Mutex
	used map[time.Time]int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{used: make(map[time.Time]int)}
}

func (s *memoryStore) Reserve(_ context.Context, window time.Time, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used[window] >= limit {
		return s.used[window], false, nil
	}
	s.used[window]++
	return s.used[window], true, nil
}

func (s *memoryStore) Release(_ context.Context, window time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used[window] > 0 {
		s.used[window]--
	}
	return s.used[window], nil
}

func (s *memoryStore) Used(_ context.Context, window time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[window], nil
}

func TestLimitersOverOneStoreShareTheDailyQuota(t *testing.T) {
	clock := newClock()
	store := newMemoryStore()
	cfg := Config{MaxPerSecond: 1000, DailyLimit: 3, Location: time.UTC}

	first := New(cfg, WithClock(clock.Now), WithStore(store))
	for i := 0; i < 3; i++ {
		require.NoError(t, first.TryAcquire(context.Background()))
	}
	require.ErrorIs(t, first.TryAcquire(context.Background()), domain.ErrRateLimitExceeded)

	// A later process starts from the persisted usage, not from zero.
	second := New(cfg, WithClock(clock.Now), WithStore(store))
	require.NoError(t, second.Sync(context.Background()))
	assert.Equal(t, 3, second.Used())
	assert.True(t, second.Exhausted())
	assert.ErrorIs(t, second.TryAcquire(context.Background()), domain.ErrRateLimitExceeded)

	clock.Advance(3 * time.Hour)
	require.NoError(t, second.TryAcquire(context.Background()))
	assert.Equal(t, 1, second.Used())
	assert.Equal(t, 2, second.Remaining())
}

func TestStoreBackedRefundOnCanceledPacing(t *testing.T) {
	store := newMemoryStore()
	limiter := New(Config{MaxPerSecond: 0.001, DailyLimit: 5, Location: time.UTC}, WithStore(store))

	require.NoError(t, limiter.TryAcquire(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Canceled before reserving: nothing is recorded.
	assert.ErrorIs(t, limiter.TryAcquire(ctx), context.Canceled)

	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.TryAcquire(ctx))
	assert.Equal(t, 1, limiter.Used())
	used, err := store.Used(context.Background(), limiter.ResetAt())
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

type failingStore struct{}

func (failingStore) Reserve(context.Context, time.Time, int) (int, bool, error) {
	return 0, false, errors.New("connection refused")
}

func (failingStore) Release(context.Context, time.Time) (int, error) { return 0, nil }

func (failingStore) Used(context.Context, time.Time) (int, error) { return 0, nil }

func TestStoreErrorsSurfaceFromTryAcquire(t *testing.T) {
	limiter := New(Config{MaxPerSecond: 1000, DailyLimit: 5, Location: time.UTC}, WithStore(failingStore{}))

	err := limiter.TryAcquire(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrRateLimitExceeded))
	assert.Contains(t, err.Error(), "connection refused")
}
