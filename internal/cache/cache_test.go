package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}
}

func TestGetOrCompute_Coalesces(t *testing.T) {
	s := New(time.Hour, WithLogger(zaptest.NewLogger(t)))

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "payload", nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]any, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.GetOrCompute(context.Background(), "prs_api_30", 0, fn)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "payload", v)
	}
}

func TestGetOrCompute_TTLBoundary(t *testing.T) {
	clock := newClock()
	s := New(12*time.Hour, WithClock(clock.Now))

	var calls int
	fn := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	v, err := s.GetOrCompute(context.Background(), "k", time.Hour, fn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.Advance(time.Hour - time.Second)
	v, err = s.GetOrCompute(context.Background(), "k", time.Hour, fn)
	require.NoError(t, err)
	assert.Equal(t, 1, v, "hit just before expiry")

	clock.Advance(2 * time.Second)
	_, ok := s.Get("k")
	assert.False(t, ok, "expired entry reads as a miss")
	v, err = s.GetOrCompute(context.Background(), "k", time.Hour, fn)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "recomputed just after expiry")
}

func TestGetOrCompute_ErrorsNotStored(t *testing.T) {
	s := New(time.Hour)
	boom := errors.New("boom")

	_, err := s.GetOrCompute(context.Background(), "k", 0, func(ctx context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	v, err := s.GetOrCompute(context.Background(), "k", 0, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestGetOrCompute_StaleFallback(t *testing.T) {
	clock := newClock()
	s := New(time.Hour, WithClock(clock.Now))
	s.Set("k", "old", 0)
	clock.Advance(2 * time.Hour)

	v, err := s.GetOrCompute(context.Background(), "k", 0, func(ctx context.Context) (any, error) {
		return nil, errors.New("github down")
	})
	require.NoError(t, err)
	assert.Equal(t, "old", v)

	_, ok := s.Get("k")
	assert.False(t, ok, "stale value is served but not refreshed")
}

func TestGetOrComputeTTL_NonPositiveNotStored(t *testing.T) {
	s := New(time.Hour)
	v, err := s.GetOrComputeTTL(context.Background(), "k", func(ctx context.Context) (any, time.Duration, error) {
		return "partial", 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "partial", v)
	assert.Equal(t, 0, s.Stats().Entries)
}

func TestGetOrCompute_WaiterCancel(t *testing.T) {
	s := New(time.Hour)
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan any)
	go func() {
		v, _ := s.GetOrCompute(context.Background(), "k", 0, func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "v", nil
		})
		done <- v
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.GetOrCompute(ctx, "k", 0, func(ctx context.Context) (any, error) {
		t.Fatal("waiter must not compute")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	assert.Equal(t, "v", <-done)
}

func TestGetOrCompute_LeaderCancelRetries(t *testing.T) {
	s := New(time.Hour)
	var calls atomic.Int32
	started := make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "v", nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error)
	go func() {
		_, err := s.GetOrCompute(leaderCtx, "k", 0, fn)
		leaderErr <- err
	}()
	<-started

	waiter := make(chan any)
	go func() {
		v, err := s.GetOrCompute(context.Background(), "k", 0, fn)
		assert.NoError(t, err)
		waiter <- v
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	assert.Equal(t, "v", <-waiter)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_Typed(t *testing.T) {
	s := New(time.Hour)
	n, err := Fetch(context.Background(), s, "n", 0, func(ctx context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = Fetch(context.Background(), s, "n", 0, func(ctx context.Context) (string, error) { return "x", nil })
	assert.ErrorIs(t, err, ErrTypeMismatch)

	got, ok := Peek[int](s, "n")
	assert.True(t, ok)
	assert.Equal(t, 42, got)
}

func TestUpdate_MergesAndKeepsExpiry(t *testing.T) {
	clock := newClock()
	s := New(time.Hour, WithClock(clock.Now))
	merge := func(add int) func(any, bool) any {
		return func(old any, ok bool) any {
			next := map[int]bool{add: true}
			if ok {
				for k := range old.(map[int]bool) {
					next[k] = true
				}
			}
			return next
		}
	}

	s.Update("all_reviews_api", 0, merge(1))
	clock.Advance(30 * time.Minute)
	got := s.Update("all_reviews_api", 0, merge(2))
	assert.Equal(t, map[int]bool{1: true, 2: true}, got)

	clock.Advance(31 * time.Minute)
	_, ok := s.Get("all_reviews_api")
	assert.False(t, ok, "merging does not extend the entry's lifetime")

	got = s.Update("all_reviews_api", 0, merge(3))
	assert.Equal(t, map[int]bool{3: true}, got, "expired entries are not merged into")
}

func TestInvalidate(t *testing.T) {
	s := New(time.Hour)
	for _, k := range []string{"Backend_last30PR", "Backend_month_2025-01", "Frontend_last30PR", "rate_limit"} {
		s.Set(k, 1, 0)
	}

	removed := s.Invalidate("Backend_")
	assert.Equal(t, []string{"Backend_last30PR", "Backend_month_2025-01"}, removed)
	_, ok := s.Get("Frontend_last30PR")
	assert.True(t, ok)

	assert.Empty(t, s.Invalidate("nothing_"))
	assert.Equal(t, 2, s.Clear())
}

func TestGetOrCompute_InvalidatedDuringCompute(t *testing.T) {
	s := New(time.Hour)
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan any)
	go func() {
		v, _ := s.GetOrCompute(context.Background(), "Backend_last30PR", 0, func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "old", nil
		})
		done <- v
	}()
	<-started

	s.Invalidate("Backend_")
	close(release)
	assert.Equal(t, "old", <-done, "the caller still gets its value")

	_, ok := s.Get("Backend_last30PR")
	assert.False(t, ok, "a cleared key is not repopulated by a flight that started before the clear")

	v, err := s.GetOrCompute(context.Background(), "Backend_last30PR", 0, func(ctx context.Context) (any, error) {
		return "new", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "new", v)
	_, ok = s.Get("Backend_last30PR")
	assert.True(t, ok)
}

func TestPruneAndStats(t *testing.T) {
	clock := newClock()
	s := New(time.Hour, WithClock(clock.Now), WithClassifier(func(key string) string {
		if key == "rate_limit" {
			return "rate_limit"
		}
		return "other"
	}))
	s.Set("a", 1, 0)
	s.Set("rate_limit", 1, 5*time.Minute)
	clock.Advance(10 * time.Minute)

	st := s.Stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, 1, st.Stale)
	assert.Equal(t, 1.0, st.TTLHours)
	assert.Equal(t, map[string]int{"other": 1}, st.Breakdown)

	assert.Equal(t, 0, s.Prune(time.Hour))
	clock.Advance(time.Hour)
	assert.Equal(t, 1, s.Prune(time.Hour))
	assert.Equal(t, 0, s.Stats().Stale)
}
