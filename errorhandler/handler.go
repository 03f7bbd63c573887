package errorhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
)

// ErrNoScheduler is returned when a handler that redelivers has no scheduler.
var ErrNoScheduler = errors.New("errorhandler: scheduler required for redelivery")

// Config configures an error handler.
type Config struct {
	// Name keys the handler's redelivery state on the exchange. Nested
	// handlers must use distinct names. Defaults to "errorHandler".
	Name string
	// Policy is the redelivery policy.
	Policy RedeliveryPolicy
	// DeadLetter receives exchanges that exhausted their redeliveries.
	// Nil configures the default error handler, which logs the failure and
	// leaves it unhandled.
	DeadLetter processor.Processor
	// DeadLetterURI is recorded in the failure-endpoint property.
	DeadLetterURI string
	// Scheduler runs delayed redeliveries. Required when the policy redelivers.
	Scheduler processor.Scheduler
	// OnRedelivery is called before each redelivery.
	OnRedelivery func(ex *exchange.Exchange)
	// Logger is used for failure logging. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) parse() (Config, error) {
	if c.Name == "" {
		c.Name = "errorHandler"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	policy, err := c.Policy.parse()
	if err != nil {
		return c, err
	}
	c.Policy = policy
	if c.Scheduler == nil && (c.Policy.MaximumRedeliveries > 0 || c.Policy.RetryWhile != nil) {
		return c, exchange.Configuration(ErrNoScheduler)
	}
	return c, nil
}

type handler struct {
	cfg  Config
	next processor.Processor
}

// New wraps next with redelivery and dead-letter handling.
//
// A failed exchange whose error is retryable is redelivered to next after the
// policy's delay, scheduled without blocking the calling goroutine. Once
// redeliveries are exhausted the exception is moved to the exception-caught
// property, the exchange is marked failure-handled and sent to the dead
// letter. A failure inside the dead letter is logged and cleared.
// Exchanges failed by a forced shutdown are neither redelivered nor
// dead-lettered.
func New(cfg Config, next processor.Processor) (processor.Processor, error) {
	cfg, err := cfg.parse()
	if err != nil {
		return nil, err
	}
	return &handler{cfg: cfg, next: next}, nil
}

// DeadLetterChannel is New with a dead letter destination.
func DeadLetterChannel(cfg Config, deadLetter processor.Processor, next processor.Processor) (processor.Processor, error) {
	if deadLetter == nil {
		return nil, exchange.Configuration(fmt.Errorf("errorhandler: dead letter channel %q requires a destination", cfg.Name))
	}
	cfg.DeadLetter = deadLetter
	return New(cfg, next)
}

func (h *handler) Process(ctx context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
	return h.attempt(ctx, ex, done)
}

func (h *handler) attempt(ctx context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
	completed := processor.Invoke(ctx, h.next, ex, func(doneSync bool) {
		if doneSync {
			return
		}
		h.handle(ctx, ex, func(bool) { done(false) })
	})
	if !completed {
		return false
	}
	return h.handle(ctx, ex, done)
}

func (h *handler) handle(ctx context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
	err := ex.Err()
	if err == nil || ex.FailureHandled() {
		done(true)
		return true
	}
	if exchange.KindOf(err) == exchange.KindShutdownForced {
		done(true)
		return true
	}

	state := ex.Redelivery(h.cfg.Name)
	state.LastErr = err

	if h.shouldRedeliver(ctx, ex, err, state.Count) {
		return h.redeliver(ctx, ex, err, state, done)
	}

	if state.Count > 0 {
		setHeader(ex, exchange.HeaderRedeliveryExhausted, true)
	}
	if h.cfg.DeadLetter == nil {
		h.cfg.Logger.Error("Failed delivery",
			"handler", h.cfg.Name, "exchangeId", ex.ID(), "redeliveries", state.Count, "error", err)
		done(true)
		return true
	}
	return h.deadLetter(ctx, ex, err, done)
}

func (h *handler) shouldRedeliver(ctx context.Context, ex *exchange.Exchange, err error, count int) bool {
	if ctx.Err() != nil || !h.cfg.Policy.Retryable(err) {
		return false
	}
	if h.cfg.Policy.RetryWhile == nil {
		return count < h.cfg.Policy.MaximumRedeliveries
	}
	ok, perr := h.cfg.Policy.RetryWhile(ex)
	if perr != nil {
		h.cfg.Logger.Warn("Retry predicate failed", "handler", h.cfg.Name, "exchangeId", ex.ID(), "error", perr)
		return false
	}
	return ok
}

func (h *handler) redeliver(ctx context.Context, ex *exchange.Exchange, err error, state *exchange.RedeliveryState, done processor.DoneFunc) bool {
	state.Count++
	state.NextDelay = h.cfg.Policy.Delay(state.Count)
	setHeader(ex, exchange.HeaderRedelivered, true)
	setHeader(ex, exchange.HeaderRedeliveryCounter, state.Count)
	if h.cfg.Policy.RetryWhile == nil {
		setHeader(ex, exchange.HeaderRedeliveryMaxCount, h.cfg.Policy.MaximumRedeliveries)
	}

	h.cfg.Logger.Debug("Scheduling redelivery",
		"handler", h.cfg.Name, "exchangeId", ex.ID(), "attempt", state.Count, "delay", state.NextDelay, "error", err)

	accepted := h.cfg.Scheduler.Schedule(state.NextDelay, func(cancelled bool) {
		if cancelled {
			ex.SetErr(exchange.ShutdownForced(err))
			done(false)
			return
		}
		ex.SetErr(nil)
		if h.cfg.OnRedelivery != nil {
			h.cfg.OnRedelivery(ex)
		}
		h.attempt(ctx, ex, func(bool) { done(false) })
	})
	if !accepted {
		ex.SetErr(exchange.ShutdownForced(err))
		done(true)
		return true
	}
	return false
}

func (h *handler) deadLetter(ctx context.Context, ex *exchange.Exchange, err error, done processor.DoneFunc) bool {
	ex.SetProperty(exchange.PropertyExceptionCaught, err)
	if h.cfg.DeadLetterURI != "" {
		ex.SetProperty(exchange.PropertyFailureEndpoint, h.cfg.DeadLetterURI)
	}
	ex.SetErr(nil)

	finish := func() {
		if dlErr := ex.Err(); dlErr != nil {
			h.cfg.Logger.Error("Dead letter failed",
				"handler", h.cfg.Name, "exchangeId", ex.ID(), "error", dlErr, "cause", err)
			ex.SetErr(nil)
		}
		ex.SetFailureHandled(true)
	}

	completed := processor.Invoke(ctx, h.cfg.DeadLetter, ex, func(doneSync bool) {
		if doneSync {
			return
		}
		finish()
		done(false)
	})
	if !completed {
		return false
	}
	finish()
	done(true)
	return true
}

func setHeader(ex *exchange.Exchange, name string, value any) {
	ex.In().SetHeader(name, value)
	if ex.HasOut() {
		ex.Out().SetHeader(name, value)
	}
}
