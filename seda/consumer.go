package seda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/pool"
	"github.com/fxsml/goroute/processor"
)

// ErrAlreadyStarted is returned when a running consumer is started again.
var ErrAlreadyStarted = errors.New("seda: consumer already started")

// State is the lifecycle state of a Consumer.
type State int32

const (
	// StateIdle is a consumer that was never started.
	StateIdle State = iota
	// StateRunning is a consumer whose workers poll the queue.
	StateRunning
	// StateShuttingDown is a consumer finishing work before it stops.
	StateShuttingDown
	// StateStopped is a consumer without workers.
	StateStopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateStopped:
		return "Stopped"
	default:
		return "Idle"
	}
}

// Consumer runs queued exchanges through a processor on pool workers.
type Consumer struct {
	endpoint  *Endpoint
	processor processor.Processor
	cfg       Config

	state   atomic.Int32
	tracker *tracker

	lifecycle sync.Mutex
	workers   *pool.Pool
	forceCtx  context.Context
	force     context.CancelFunc
}

func newConsumer(ep *Endpoint, p processor.Processor) *Consumer {
	return &Consumer{
		endpoint:  ep,
		processor: processor.UnitOfWork(p),
		cfg:       ep.cfg,
		tracker:   newTracker(),
	}
}

// Release implements endpoint.Releaser. A consumer that was never started
// gives up its queue, so another consumer can be created for it.
func (c *Consumer) Release() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.State() == StateIdle {
		c.endpoint.releaseConsumer(c)
	}
}

// State returns the lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// InFlight returns the number of exchanges being processed.
func (c *Consumer) InFlight() int64 {
	return c.tracker.inFlight()
}

// Start starts ConcurrentConsumers workers.
func (c *Consumer) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if s := c.State(); s == StateRunning || s == StateShuttingDown {
		return ErrAlreadyStarted
	}

	p, err := c.endpoint.component.manager.NewPool(c.endpoint.queueURI(), c.cfg.ConcurrentConsumers)
	if err != nil {
		return fmt.Errorf("seda: start consumer %s: %w", c.endpoint.uri, err)
	}
	c.workers = p
	c.forceCtx, c.force = context.WithCancel(context.Background())
	c.endpoint.queue.Reopen()
	c.state.Store(int32(StateRunning))

	for range c.cfg.ConcurrentConsumers {
		if err := p.Go(c.work); err != nil {
			return err
		}
	}
	c.cfg.Logger.Debug("Seda consumer started",
		"endpoint", c.endpoint.uri, "concurrentConsumers", c.cfg.ConcurrentConsumers)
	return nil
}

func (c *Consumer) work(_ context.Context, name string) error {
	q := c.endpoint.queue
	for {
		if c.State() != StateRunning && c.cfg.ShutdownRunningTask == CompleteCurrentTaskOnly {
			return nil
		}
		ex, err := q.Poll(c.forceCtx, c.cfg.PollTimeout)
		if err != nil {
			return nil
		}
		if ex == nil {
			continue
		}
		c.run(ex, name)
	}
}

func (c *Consumer) run(ex *exchange.Exchange, worker string) {
	c.tracker.enter(ex)
	defer c.tracker.exit(ex)

	ex.SetProperty(exchange.PropertyFromEndpoint, c.endpoint.uri)
	done := make(chan struct{})
	if processor.Invoke(c.forceCtx, c.processor, ex, func(bool) { close(done) }) {
		return
	}
	select {
	case <-done:
	case <-c.forceCtx.Done():
		c.cfg.Logger.Debug("Abandoning exchange on forced shutdown",
			"endpoint", c.endpoint.uri, "worker", worker, "exchangeId", ex.ID())
		c.fail([]*exchange.Exchange{ex})
	}
}

// Stop shuts the consumer down according to ShutdownRunningTask.
//
// The queue is closed first, so producers are rejected with ErrQueueClosed
// from then on. Workers get ShutdownTimeout to finish; after that, in-flight
// and still queued exchanges fail with a ShutdownForced error and their Unit
// of Work completes. Stop returns ctx.Err() if ctx ends first.
func (c *Consumer) Stop(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown)) {
		return nil
	}
	defer c.state.Store(int32(StateStopped))

	q := c.endpoint.queue
	if c.cfg.ShutdownRunningTask == CompleteCurrentTaskOnly {
		if n := c.fail(q.CloseAndDrain()); n > 0 {
			c.cfg.Logger.Info("Failed queued exchanges on shutdown", "endpoint", c.endpoint.uri, "count", n)
		}
	} else {
		q.Close()
	}

	workersDone := make(chan struct{})
	go func() {
		_ = c.workers.Wait()
		close(workersDone)
	}()

	timer := time.NewTimer(c.cfg.ShutdownTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-workersDone:
	case <-timer.C:
		c.forceShutdown()
		select {
		case <-workersDone:
		case <-ctx.Done():
			err = ctx.Err()
		}
	case <-ctx.Done():
		c.forceShutdown()
		err = ctx.Err()
	}

	c.force()
	if err == nil {
		err = c.workers.Close()
	}
	c.cfg.Logger.Debug("Seda consumer stopped", "endpoint", c.endpoint.uri)
	return err
}

func (c *Consumer) forceShutdown() {
	c.force()
	n := c.fail(c.tracker.snapshot())
	n += c.fail(c.endpoint.queue.Drain())
	c.cfg.Logger.Warn("Forced seda consumer shutdown",
		"endpoint", c.endpoint.uri, "timeout", c.cfg.ShutdownTimeout, "failed", n)
}

// fail completes exchanges that will not be processed.
func (c *Consumer) fail(exs []*exchange.Exchange) int {
	n := 0
	for _, ex := range exs {
		if ex.UnitOfWork().IsDone() {
			continue
		}
		ex.SetErr(exchange.ShutdownForced(fmt.Errorf("seda: %s stopped", c.endpoint.uri)))
		ex.UnitOfWork().Done(ex)
		n++
	}
	return n
}
