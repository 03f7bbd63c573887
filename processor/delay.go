package processor

import (
	"context"
	"time"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/pool"
)

// Scheduler runs delayed tasks. *pool.Scheduler implements it.
type Scheduler interface {
	Schedule(delay time.Duration, task pool.Task) bool
}

type delay struct {
	d         func(ex *exchange.Exchange) (time.Duration, error)
	scheduler Scheduler
}

// Delay continues the exchange after d without blocking the calling goroutine.
// If the scheduler stops before the delay elapsed, the exchange fails with a
// ShutdownForced error.
func Delay(d time.Duration, scheduler Scheduler) Processor {
	return DelayFunc(func(*exchange.Exchange) (time.Duration, error) { return d, nil }, scheduler)
}

// DelayFunc is like Delay with a delay computed per exchange.
func DelayFunc(d func(ex *exchange.Exchange) (time.Duration, error), scheduler Scheduler) Processor {
	return &delay{d: d, scheduler: scheduler}
}

func (p *delay) Process(ctx context.Context, ex *exchange.Exchange, done DoneFunc) bool {
	d, err := p.d(ex)
	if err != nil {
		ex.SetErr(err)
	}
	if err != nil || d <= 0 {
		done(true)
		return true
	}
	ok := p.scheduler.Schedule(d, func(cancelled bool) {
		if cancelled {
			ex.SetErr(exchange.ShutdownForced(nil))
		}
		done(false)
	})
	if !ok {
		ex.SetErr(exchange.ShutdownForced(nil))
		done(true)
		return true
	}
	return false
}
