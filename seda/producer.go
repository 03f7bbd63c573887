package seda

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
)

// ErrTimeout is recorded on an exchange whose producer stopped waiting for the consumer.
var ErrTimeout = errors.New("seda: timed out waiting for task to complete")

// Producer enqueues a copy of each exchange.
type Producer struct {
	endpoint *Endpoint
}

// Start implements endpoint.Producer.
func (p *Producer) Start(context.Context) error { return nil }

// Stop implements endpoint.Producer.
func (p *Producer) Stop(context.Context) error { return nil }

func (p *Producer) wait(ex *exchange.Exchange) bool {
	switch p.endpoint.cfg.WaitForTaskToComplete {
	case Always:
		return true
	case IfReplyExpected:
		return ex.Pattern() == exchange.InOut
	default:
		return false
	}
}

// Process implements processor.Processor.
//
// When the producer waits for the task to complete, the exchange is
// completed asynchronously with the results of the copy once the consumer's
// Unit of Work finished, or with ErrTimeout.
func (p *Producer) Process(ctx context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
	cfg := p.endpoint.cfg
	c := ex.Copy()
	wait := p.wait(ex)

	var settled atomic.Bool
	var timer *time.Timer
	if wait {
		timer = time.AfterFunc(cfg.Timeout, func() {
			if settled.CompareAndSwap(false, true) {
				ex.SetErr(exchange.Transient(fmt.Errorf("%w after %s: %s", ErrTimeout, cfg.Timeout, p.endpoint.uri)))
				done(false)
			}
		})
		complete := func(c *exchange.Exchange) {
			if settled.CompareAndSwap(false, true) {
				timer.Stop()
				copyResults(ex, c)
				done(false)
			}
		}
		c.AddSynchronization(exchange.SynchronizationFuncs{Complete: complete, Failure: complete})
	}

	var err error
	if cfg.BlockWhenFull {
		err = p.endpoint.queue.Put(ctx, c)
	} else {
		err = p.endpoint.queue.Offer(c)
	}
	if err != nil {
		if wait && !settled.CompareAndSwap(false, true) {
			// the timeout already completed the exchange
			return false
		}
		if timer != nil {
			timer.Stop()
		}
		switch {
		case errors.Is(err, ErrQueueFull):
			err = exchange.Transient(fmt.Errorf("%w: %s", err, p.endpoint.uri))
		case errors.Is(err, ErrQueueClosed):
			err = exchange.ShutdownForced(fmt.Errorf("%w: %s", err, p.endpoint.uri))
		}
		ex.SetErr(err)
		done(true)
		return true
	}
	if !wait {
		done(true)
		return true
	}
	return false
}

func copyResults(dst, src *exchange.Exchange) {
	dst.SetIn(src.In())
	dst.SetOut(src.Out())
	for k, v := range src.Properties() {
		dst.SetProperty(k, v)
	}
	dst.SetErr(src.Err())
}
