package seda

import (
	"sync"
	"sync/atomic"

	"github.com/fxsml/goroute/exchange"
)

// tracker keeps the exchanges currently processed by workers, so a forced
// shutdown can fail them.
//
// Thread-safe for concurrent use.
type tracker struct {
	count atomic.Int64

	mu        sync.Mutex
	exchanges map[string]*exchange.Exchange
}

func newTracker() *tracker {
	return &tracker{exchanges: make(map[string]*exchange.Exchange)}
}

func (t *tracker) enter(ex *exchange.Exchange) {
	t.mu.Lock()
	t.exchanges[ex.ID()] = ex
	t.mu.Unlock()
	t.count.Add(1)
}

func (t *tracker) exit(ex *exchange.Exchange) {
	t.mu.Lock()
	delete(t.exchanges, ex.ID())
	t.mu.Unlock()
	t.count.Add(-1)
}

func (t *tracker) snapshot() []*exchange.Exchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*exchange.Exchange, 0, len(t.exchanges))
	for _, ex := range t.exchanges {
		out = append(out, ex)
	}
	return out
}

func (t *tracker) inFlight() int64 {
	return t.count.Load()
}
