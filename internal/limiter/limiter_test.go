package limiter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
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

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func wide() Config {
	return Config{Capacity: 1000, Interval: time.Second, MaxConcurrent: 100}
}

func newLimiter(t *testing.T, opts ...Option) *Limiter {
	t.Helper()
	l, err := New(nil, opts...)
	require.NoError(t, err)
	return l
}

func userQueued(l *Limiter, userID string) int {
	l.mu.Lock()
	b, ok := l.users[userID]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	return b.counts().Queued
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Global(Config{Capacity: 0, Interval: time.Second, MaxConcurrent: 1}))
	assert.Error(t, err)

	_, err = New(nil, PerUser(Config{Capacity: 1, Interval: 0, MaxConcurrent: 1}))
	assert.Error(t, err)
}

func TestSchedule_ReturnsTaskError(t *testing.T) {
	t.Parallel()

	l := newLimiter(t)
	boom := errors.New("boom")

	err := l.Schedule(context.Background(), "42", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	stats := l.Stats()
	assert.Equal(t, 0, stats.Global.Running)
	assert.EqualValues(t, 1, stats.Global.Done)
	assert.Equal(t, 1, stats.UserBuckets)
}

func TestSchedule_PerUserSerialAndFIFO(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, Global(wide()), PerUser(Config{Capacity: 100, Interval: time.Minute, MaxConcurrent: 1}))
	ctx := context.Background()

	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	var order []int

	gate := make(chan struct{})
	task := func(n int) func(context.Context) error {
		return func(context.Context) error {
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			if n == 1 {
				<-gate
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			inFlight.Add(-1)
			return nil
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, l.Schedule(ctx, "42", task(1)))
	}()
	require.Eventually(t, func() bool { return inFlight.Load() == 1 }, time.Second, time.Millisecond)

	for n := 2; n <= 5; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Schedule(ctx, "42", task(n)))
		}()
		require.Eventually(t, func() bool { return userQueued(l, "42") == n-1 }, time.Second, time.Millisecond)
	}

	close(gate)
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
	assert.EqualValues(t, 1, peak.Load())
}

func TestSchedule_GlobalCeiling(t *testing.T) {
	t.Parallel()

	const interval = 100 * time.Millisecond
	l := newLimiter(t,
		Global(Config{Capacity: 5, Interval: interval, MaxConcurrent: 10}),
		PerUser(wide()),
	)

	var mu sync.Mutex
	var starts []time.Time

	begin := time.Now()
	var wg sync.WaitGroup
	for i := range 15 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Schedule(context.Background(), fmt.Sprintf("user-%d", i), func(context.Context) error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, starts, 15)
	slices.SortFunc(starts, func(a, b time.Time) int { return a.Compare(b) })
	assert.GreaterOrEqual(t, starts[5].Sub(begin), interval, "sixth call must wait for a returned token")
	assert.GreaterOrEqual(t, starts[10].Sub(begin), 2*interval, "eleventh call must wait two windows")
}

func TestSchedule_PerUserCeiling(t *testing.T) {
	t.Parallel()

	const interval = 80 * time.Millisecond
	l := newLimiter(t,
		Global(wide()),
		PerUser(Config{Capacity: 2, Interval: interval, MaxConcurrent: 1}),
	)

	begin := time.Now()
	var last time.Time
	for range 3 {
		require.NoError(t, l.Schedule(context.Background(), "42", func(context.Context) error {
			last = time.Now()
			return nil
		}))
	}
	assert.GreaterOrEqual(t, last.Sub(begin), interval)
}

func TestSchedule_CancelledWaiterLeavesQueue(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, Global(wide()), PerUser(Config{Capacity: 10, Interval: time.Minute, MaxConcurrent: 1}))

	gate := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Schedule(context.Background(), "42", func(context.Context) error {
			<-gate
			return nil
		})
	}()
	require.Eventually(t, func() bool { return l.Stats().Global.Running == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var ran atomic.Bool
	err := l.Schedule(ctx, "42", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran.Load())
	assert.Zero(t, userQueued(l, "42"))

	close(gate)
	<-done

	require.NoError(t, l.Schedule(context.Background(), "42", func(context.Context) error {
		ran.Store(true)
		return nil
	}))
	assert.True(t, ran.Load())
}

func TestIsUserThrottled(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, Global(wide()), PerUser(Config{Capacity: 2, Interval: time.Minute, MaxConcurrent: 1}))
	assert.False(t, l.IsUserThrottled("42"))

	gate := make(chan struct{})
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Schedule(context.Background(), "42", func(context.Context) error {
				<-gate
				return nil
			})
		}()
	}

	require.Eventually(t, func() bool { return l.IsUserThrottled("42") }, time.Second, time.Millisecond)
	assert.False(t, l.IsUserThrottled("7"))

	close(gate)
	wg.Wait()
	assert.False(t, l.IsUserThrottled("42"))
}

func TestClear(t *testing.T) {
	t.Parallel()

	l := newLimiter(t)
	require.NoError(t, l.Schedule(context.Background(), "42", func(context.Context) error { return nil }))
	require.Equal(t, 1, l.Stats().UserBuckets)

	assert.True(t, l.Clear("42"))
	assert.False(t, l.Clear("unknown"))
	assert.Zero(t, l.Stats().UserBuckets)
}

func TestClear_BusyBucketKeepsUserSerial(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, Global(wide()), PerUser(Config{Capacity: 15, Interval: time.Minute, MaxConcurrent: 1}))
	ctx := context.Background()

	var inFlight, peak atomic.Int32
	task := func(hold time.Duration) func(context.Context) error {
		return func(context.Context) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(hold)
			inFlight.Add(-1)
			return nil
		}
	}

	first := make(chan error, 1)
	go func() { first <- l.Schedule(ctx, "42", task(100*time.Millisecond)) }()
	require.Eventually(t, func() bool { return inFlight.Load() == 1 }, time.Second, time.Millisecond)

	assert.False(t, l.Clear("42"), "bucket with a running task is kept")

	second := make(chan error, 1)
	go func() { second <- l.Schedule(ctx, "42", task(10*time.Millisecond)) }()
	require.Eventually(t, func() bool { return userQueued(l, "42") == 1 }, time.Second, time.Millisecond)
	assert.False(t, l.Clear("42"), "bucket with a queued task is kept")

	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 1, l.Stats().UserBuckets)
}

func TestSweep(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}

	l := newLimiter(t, Global(wide()), PerUser(Config{Capacity: 15, Interval: time.Minute, MaxConcurrent: 1}), MaxUserBuckets(2))
	l.now = clock.Now

	noop := func(context.Context) error { return nil }
	for i, user := range []string{"u1", "u2", "u3", "u4"} {
		clock.Set(t0.Add(time.Duration(i) * time.Second))
		require.NoError(t, l.Schedule(context.Background(), user, noop))
	}

	gate := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Schedule(context.Background(), "busy", func(context.Context) error {
			<-gate
			return nil
		})
	}()
	require.Eventually(t, func() bool { return l.Stats().Global.Running == 1 }, time.Second, time.Millisecond)

	clock.Set(t0.Add(10 * time.Second))
	assert.Equal(t, 3, l.Sweep(), "over the cap the oldest idle buckets go first")

	l.mu.Lock()
	_, keptU4 := l.users["u4"]
	_, keptBusy := l.users["busy"]
	l.mu.Unlock()
	assert.True(t, keptU4)
	assert.True(t, keptBusy, "busy bucket is never evicted")

	clock.Set(t0.Add(2 * time.Minute))
	assert.Equal(t, 1, l.Sweep(), "idle bucket with all tokens back is removed")
	assert.Equal(t, 1, l.Stats().UserBuckets)

	close(gate)
	<-done
	clock.Set(t0.Add(5 * time.Minute))
	l.Sweep()
	assert.Zero(t, l.Stats().UserBuckets)
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, SweepInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
