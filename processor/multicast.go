package processor

import (
	"context"
	"sync"

	"github.com/fxsml/goroute/exchange"
)

// MulticastConfig configures a Multicast.
type MulticastConfig struct {
	// Parallel runs all branches concurrently. By default branches run in order.
	Parallel bool
	// ContinueOnException keeps sending to the remaining branches after a
	// branch failed. The first failure is still recorded on the exchange.
	ContinueOnException bool
}

type multicast struct {
	cfg      MulticastConfig
	branches []Processor
}

// Multicast sends a copy of the exchange to every branch. The result of the
// last completed branch in declaration order becomes the exchange result.
// Each copy's Unit of Work is completed when its branch finished.
func Multicast(cfg MulticastConfig, branches ...Processor) Processor {
	return &multicast{cfg: cfg, branches: branches}
}

func (m *multicast) Process(ctx context.Context, ex *exchange.Exchange, done DoneFunc) bool {
	if len(m.branches) == 0 {
		done(true)
		return true
	}
	if m.cfg.Parallel {
		return m.parallel(ctx, ex, done)
	}
	return m.sequential(ctx, ex, 0, done)
}

func (m *multicast) branch(ex *exchange.Exchange, i int) *exchange.Exchange {
	c := ex.Copy()
	c.SetProperty(exchange.PropertyMulticastIndex, i)
	c.SetProperty(exchange.PropertyMulticastComplete, i == len(m.branches)-1)
	c.UnitOfWork().Begin()
	return c
}

// aggregate merges a finished branch into ex and reports whether the
// multicast must stop.
func (m *multicast) aggregate(ex, c *exchange.Exchange) bool {
	if err := c.Err(); err != nil {
		if ex.Err() == nil {
			ex.SetErr(err)
		}
		return !m.cfg.ContinueOnException
	}
	setResult(ex, c.Result().Body())
	return false
}

func (m *multicast) sequential(ctx context.Context, ex *exchange.Exchange, i int, done DoneFunc) bool {
	for ; i < len(m.branches); i++ {
		c := m.branch(ex, i)
		next := i + 1
		completed := Invoke(ctx, m.branches[i], c, func(doneSync bool) {
			if doneSync {
				return
			}
			c.UnitOfWork().Done(c)
			if m.aggregate(ex, c) {
				done(false)
				return
			}
			m.sequential(ctx, ex, next, func(bool) { done(false) })
		})
		if !completed {
			return false
		}
		c.UnitOfWork().Done(c)
		if m.aggregate(ex, c) {
			break
		}
	}
	done(true)
	return true
}

func (m *multicast) parallel(ctx context.Context, ex *exchange.Exchange, done DoneFunc) bool {
	copies := make([]*exchange.Exchange, len(m.branches))
	for i := range m.branches {
		copies[i] = m.branch(ex, i)
	}

	var wg sync.WaitGroup
	wg.Add(len(m.branches))
	for i, b := range m.branches {
		go Invoke(ctx, b, copies[i], func(bool) { wg.Done() })
	}

	go func() {
		wg.Wait()
		for _, c := range copies {
			c.UnitOfWork().Done(c)
		}
		for _, c := range copies {
			if m.aggregate(ex, c) {
				break
			}
		}
		done(false)
	}()
	return false
}
