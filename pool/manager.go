package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrManagerStopped is returned when a pool is requested after Shutdown.
	ErrManagerStopped = errors.New("pool: manager stopped")
	// ErrPoolExists is returned when a pool name is already in use.
	ErrPoolExists = errors.New("pool: pool already exists")
	// ErrInvalidSize is returned for a pool size below one.
	ErrInvalidSize = errors.New("pool: size must be positive")
)

// workerSeq numbers worker goroutines across all managers.
var workerSeq atomic.Int64

// WorkerName returns the next unique worker name for the given pool name.
func WorkerName(name string) string {
	return workerName(workerSeq.Add(1), name)
}

func workerName(seq int64, name string) string {
	return fmt.Sprintf("goroute %d - %s", seq, name)
}

// Config configures a Manager.
type Config struct {
	// Logger is used for pool lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) parse() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Manager creates and tracks worker pools and owns the shared Scheduler.
type Manager struct {
	cfg       Config
	scheduler *Scheduler

	mu      sync.Mutex
	pools   map[string]*Pool
	stopped bool
}

// NewManager creates a Manager with a running scheduler.
func NewManager(cfg Config) *Manager {
	cfg = cfg.parse()
	return &Manager{
		cfg:       cfg,
		scheduler: NewScheduler(),
		pools:     make(map[string]*Pool),
	}
}

// Scheduler returns the shared scheduler.
func (m *Manager) Scheduler() *Scheduler {
	return m.scheduler
}

// NewPool creates a pool running at most size workers concurrently.
func (m *Manager) NewPool(name string, size int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}
	if _, ok := m.pools[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolExists, name)
	}

	p := newPool(name, size, m)
	m.pools[name] = p
	m.cfg.Logger.Debug("pool created", "pool", name, "size", size)
	return p, nil
}

// Pool returns the named pool.
func (m *Manager) Pool(name string) (*Pool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[name]
	return p, ok
}

// Pools returns the names of all open pools in sorted order.
func (m *Manager) Pools() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) release(p *Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pools[p.name] == p {
		delete(m.pools, p.name)
	}
}

// Shutdown stops the scheduler, which fails pending tasks, and closes all
// pools. It returns ctx.Err() if the pools do not finish in time.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	m.scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		var errs []error
		for _, p := range pools {
			errs = append(errs, p.Close())
		}
		errCh <- errors.Join(errs...)
	}()

	select {
	case err := <-errCh:
		m.cfg.Logger.Debug("pool manager stopped")
		return err
	case <-ctx.Done():
		m.cfg.Logger.Warn("pool manager shutdown timed out", "error", ctx.Err())
		return ctx.Err()
	}
}
