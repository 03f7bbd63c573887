package processor

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxsml/goroute/exchange"
	"golang.org/x/sync/semaphore"
)

// ErrThrottled is recorded on exchanges a rejecting throttle turned away.
var ErrThrottled = errors.New("processor: throttled")

// ThrottleConfig configures Throttle. Rate and MaxConcurrent may be combined.
type ThrottleConfig struct {
	// Rate is the number of exchanges admitted per second. Zero disables
	// rate limiting.
	Rate float64 `yaml:"rate"`
	// Burst is the number of exchanges admitted at once before Rate applies.
	// Defaults to 1.
	Burst int64 `yaml:"burst"`
	// MaxConcurrent bounds the exchanges inside the throttled processor.
	// Zero is unbounded.
	MaxConcurrent int64 `yaml:"maxConcurrent"`
	// Reject fails exchanges with a Transient ErrThrottled instead of
	// delaying them.
	Reject bool `yaml:"reject"`
}

func (c ThrottleConfig) parse() ThrottleConfig {
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// bucket is a token bucket that hands out tokens ahead of time, so waiting
// exchanges are admitted in arrival order.
type bucket struct {
	rate     float64
	capacity float64
	now      func() time.Time

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func newBucket(rate float64, capacity int64, now func() time.Time) *bucket {
	return &bucket{
		rate:     rate,
		capacity: float64(capacity),
		now:      now,
		tokens:   float64(capacity),
		last:     now(),
	}
}

// reserve takes a token and returns how long the caller waits for it. With
// reject set, nothing is taken and ok is false if no token is available now.
func (b *bucket) reserve(reject bool) (wait time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.tokens = min(b.capacity, b.tokens+now.Sub(b.last).Seconds()*b.rate)
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}
	if reject {
		return 0, false
	}
	b.tokens--
	return time.Duration(-b.tokens / b.rate * float64(time.Second)), true
}

// slots bounds concurrency without parking goroutines. An exchange that
// finds no free slot is queued, and release hands its slot straight to the
// oldest waiter.
type slots struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	waiters list.List
}

type slotWaiter struct {
	admit  func()
	queued bool
}

// acquire takes a slot and returns true, or queues w. Waiters are served
// in arrival order, so a free slot is not taken while others wait.
func (s *slots) acquire(w *slotWaiter) (*list.Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiters.Len() == 0 && s.sem.TryAcquire(1) {
		return nil, true
	}
	w.queued = true
	return s.waiters.PushBack(w), false
}

// tryAcquire takes a slot if one is free.
func (s *slots) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len() == 0 && s.sem.TryAcquire(1)
}

// cancel removes a queued waiter. It returns false if the waiter was
// already admitted.
func (s *slots) cancel(e *list.Element) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := e.Value.(*slotWaiter)
	if !w.queued {
		return false
	}
	w.queued = false
	s.waiters.Remove(e)
	return true
}

func (s *slots) release() {
	s.mu.Lock()
	front := s.waiters.Front()
	if front == nil {
		s.sem.Release(1)
		s.mu.Unlock()
		return
	}
	w := s.waiters.Remove(front).(*slotWaiter)
	w.queued = false
	s.mu.Unlock()
	go w.admit()
}

type throttle struct {
	cfg       ThrottleConfig
	bucket    *bucket
	slots     *slots
	scheduler Scheduler
	next      Processor
}

// Throttle limits the rate and concurrency of exchanges entering next.
// Exchanges over the rate are continued on the scheduler when their token is
// due. Exchanges over MaxConcurrent are continued asynchronously, in arrival
// order, once a slot frees up, or fail with a ShutdownForced error when ctx
// is done first.
func Throttle(cfg ThrottleConfig, scheduler Scheduler, next Processor) Processor {
	cfg = cfg.parse()
	p := &throttle{cfg: cfg, scheduler: scheduler, next: next}
	if cfg.Rate > 0 {
		p.bucket = newBucket(cfg.Rate, cfg.Burst, time.Now)
	}
	if cfg.MaxConcurrent > 0 {
		p.slots = &slots{sem: semaphore.NewWeighted(cfg.MaxConcurrent)}
	}
	return p
}

func (p *throttle) Process(ctx context.Context, ex *exchange.Exchange, done DoneFunc) bool {
	if p.bucket == nil {
		return p.admit(ctx, ex, done)
	}
	wait, ok := p.bucket.reserve(p.cfg.Reject)
	if !ok {
		ex.SetErr(exchange.Transient(fmt.Errorf("%w: over %g/s", ErrThrottled, p.cfg.Rate)))
		done(true)
		return true
	}
	if wait <= 0 {
		return p.admit(ctx, ex, done)
	}
	scheduled := p.scheduler.Schedule(wait, func(cancelled bool) {
		if cancelled {
			ex.SetErr(exchange.ShutdownForced(nil))
			done(false)
			return
		}
		p.admit(ctx, ex, func(bool) { done(false) })
	})
	if !scheduled {
		ex.SetErr(exchange.ShutdownForced(nil))
		done(true)
		return true
	}
	return false
}

func (p *throttle) admit(ctx context.Context, ex *exchange.Exchange, done DoneFunc) bool {
	if p.slots == nil {
		return Invoke(ctx, p.next, ex, done)
	}
	if p.cfg.Reject {
		if !p.slots.tryAcquire() {
			ex.SetErr(exchange.Transient(fmt.Errorf("%w: %d in flight", ErrThrottled, p.cfg.MaxConcurrent)))
			done(true)
			return true
		}
		return p.invoke(ctx, ex, done)
	}
	if err := ctx.Err(); err != nil {
		ex.SetErr(exchange.ShutdownForced(err))
		done(true)
		return true
	}

	var stop func() bool
	ready := make(chan struct{})
	w := &slotWaiter{admit: func() {
		<-ready
		stop()
		p.invoke(ctx, ex, func(bool) { done(false) })
	}}
	e, ok := p.slots.acquire(w)
	if ok {
		return p.invoke(ctx, ex, done)
	}
	stop = context.AfterFunc(ctx, func() {
		if p.slots.cancel(e) {
			ex.SetErr(exchange.ShutdownForced(ctx.Err()))
			done(false)
		}
	})
	close(ready)
	return false
}

func (p *throttle) invoke(ctx context.Context, ex *exchange.Exchange, done DoneFunc) bool {
	return Invoke(ctx, p.next, ex, func(doneSync bool) {
		p.slots.release()
		done(doneSync)
	})
}
