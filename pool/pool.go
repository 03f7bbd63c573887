package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned when work is submitted to a closed pool.
var ErrPoolClosed = errors.New("pool: pool closed")

// WorkerFunc is the body of a pool worker. name is the worker's unique name.
// ctx is cancelled when the pool is closed.
type WorkerFunc func(ctx context.Context, name string) error

// Pool runs a bounded number of named workers.
type Pool struct {
	name    string
	size    int
	manager *Manager

	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	wmu     sync.Mutex
	workers map[int64]string
	active  atomic.Int64
}

func newPool(name string, size int, m *Manager) *Pool {
	g := &errgroup.Group{}
	g.SetLimit(size)
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		name:    name,
		size:    size,
		manager: m,
		g:       g,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[int64]string),
	}
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Size returns the maximum number of concurrent workers.
func (p *Pool) Size() int { return p.size }

// Active returns the number of running workers.
func (p *Pool) Active() int64 { return p.active.Load() }

// Workers returns the names of the running workers.
func (p *Pool) Workers() []string {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	names := make([]string, 0, len(p.workers))
	for _, n := range p.workers {
		names = append(names, n)
	}
	return names
}

// Go starts fn on a new worker, blocking while the pool is at capacity.
func (p *Pool) Go(fn WorkerFunc) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.g.Go(p.wrap(fn))
	return nil
}

// TryGo starts fn only if a worker slot is free and reports whether it did.
func (p *Pool) TryGo(fn WorkerFunc) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false, ErrPoolClosed
	}
	return p.g.TryGo(p.wrap(fn)), nil
}

func (p *Pool) wrap(fn WorkerFunc) func() error {
	seq := workerSeq.Add(1)
	name := workerName(seq, p.name)
	return func() error {
		p.wmu.Lock()
		p.workers[seq] = name
		p.wmu.Unlock()
		p.active.Add(1)
		defer func() {
			p.active.Add(-1)
			p.wmu.Lock()
			delete(p.workers, seq)
			p.wmu.Unlock()
		}()
		return fn(p.ctx, name)
	}
}

// Wait blocks until all workers returned and yields the first worker error.
func (p *Pool) Wait() error {
	return p.g.Wait()
}

// Close rejects further work, cancels the worker context and waits for all
// workers. Callers that need workers to finish their current task should stop
// feeding them before calling Close.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	err := p.g.Wait()
	p.manager.release(p)
	return err
}
