package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucket_Reserve(t *testing.T) {
	now := time.Unix(0, 0)
	b := newBucket(2, 2, func() time.Time { return now })

	for range 2 {
		wait, ok := b.reserve(false)
		require.True(t, ok)
		assert.Zero(t, wait)
	}

	_, ok := b.reserve(true)
	assert.False(t, ok, "rejecting reserve takes nothing")

	wait, ok := b.reserve(false)
	require.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)
	wait, _ = b.reserve(false)
	assert.Equal(t, time.Second, wait, "queued behind the previous reservation")

	now = now.Add(time.Second)
	wait, _ = b.reserve(false)
	assert.Equal(t, 500*time.Millisecond, wait)

	now = now.Add(time.Hour)
	wait, _ = b.reserve(false)
	assert.Zero(t, wait, "refill is capped at capacity")
	wait, _ = b.reserve(false)
	assert.Zero(t, wait)
	_, ok = b.reserve(true)
	assert.False(t, ok)
}

func TestThrottle_Rate(t *testing.T) {
	s := pool.NewScheduler()
	defer s.Stop()

	var count atomic.Int32
	p := Throttle(ThrottleConfig{Rate: 20}, s, Func(func(context.Context, *exchange.Exchange) error {
		count.Add(1)
		return nil
	}))

	start := time.Now()
	for range 3 {
		require.NoError(t, Run(context.Background(), p, newExchange(nil)))
	}
	assert.Equal(t, int32(3), count.Load())
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestThrottle_RateReject(t *testing.T) {
	s := pool.NewScheduler()
	defer s.Stop()

	p := Throttle(ThrottleConfig{Rate: 1, Reject: true}, s, Func(func(context.Context, *exchange.Exchange) error { return nil }))
	require.NoError(t, Run(context.Background(), p, newExchange(nil)))

	err := Run(context.Background(), p, newExchange(nil))
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, exchange.KindTransient, exchange.KindOf(err))
}

func TestThrottle_SchedulerStopFailsExchange(t *testing.T) {
	s := pool.NewScheduler()
	p := Throttle(ThrottleConfig{Rate: 0.001}, s, Func(func(context.Context, *exchange.Exchange) error { return nil }))
	require.NoError(t, Run(context.Background(), p, newExchange(nil)))

	ex := newExchange(nil)
	doneCh := make(chan struct{})
	assert.False(t, p.Process(context.Background(), ex, func(bool) { close(doneCh) }))
	s.Stop()

	<-doneCh
	assert.Equal(t, exchange.KindShutdownForced, exchange.KindOf(ex.Err()))
}

func TestThrottle_MaxConcurrent(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	p := Throttle(ThrottleConfig{MaxConcurrent: 2}, nil, Func(func(context.Context, *exchange.Exchange) error {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return nil
	}))

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, Run(context.Background(), p, newExchange(nil)))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(2), peak.Load())
}

func TestThrottle_MaxConcurrentReject(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	p := Throttle(ThrottleConfig{MaxConcurrent: 1, Reject: true}, nil, Func(func(context.Context, *exchange.Exchange) error {
		close(entered)
		<-release
		return nil
	}))

	errCh := make(chan error, 1)
	go func() { errCh <- Run(context.Background(), p, newExchange(nil)) }()
	<-entered

	assert.ErrorIs(t, Run(context.Background(), p, newExchange(nil)), ErrThrottled)
	close(release)
	assert.NoError(t, <-errCh)
}

func TestThrottle_CancelWhileWaitingForSlot(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	entered := make(chan struct{})
	p := Throttle(ThrottleConfig{MaxConcurrent: 1}, nil, Func(func(context.Context, *exchange.Exchange) error {
		close(entered)
		<-release
		return nil
	}))
	go func() { _ = Run(context.Background(), p, newExchange(nil)) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := Run(ctx, p, newExchange(nil))
	assert.Equal(t, exchange.KindShutdownForced, exchange.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThrottle_WaitingExchangesContinueInOrder(t *testing.T) {
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		order []any
	)
	p := Throttle(ThrottleConfig{MaxConcurrent: 1}, nil, Func(func(_ context.Context, ex *exchange.Exchange) error {
		mu.Lock()
		order = append(order, ex.In().Body())
		mu.Unlock()
		if ex.In().Body() == 0 {
			<-release
		}
		return nil
	}))

	first := make(chan struct{})
	go func() {
		_ = Run(context.Background(), p, newExchange(0))
		close(first)
	}()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	}, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		completed := p.Process(context.Background(), newExchange(i), func(doneSync bool) {
			assert.False(t, doneSync)
			wg.Done()
		})
		assert.False(t, completed, "the caller is not held while the exchange waits")
	}

	close(release)
	<-first
	wg.Wait()
	assert.Equal(t, []any{0, 1, 2, 3}, order)
}
