package processor

import (
	"context"
	"sync/atomic"

	"github.com/fxsml/goroute/exchange"
)

// DoneFunc is the completion callback of a Processor. doneSync is true when
// the processor completed before Process returned.
type DoneFunc func(doneSync bool)

// Processor is one step of a route.
//
// Process either completes before returning, in which case it calls
// done(true) and returns true, or returns false after arranging for
// done(false) to be called later from any goroutine. done is called exactly
// once per Process call. Failures are recorded on the exchange, never returned.
type Processor interface {
	Process(ctx context.Context, ex *exchange.Exchange, done DoneFunc) bool
}

// AsyncFunc adapts a function implementing the raw contract to Processor.
type AsyncFunc func(ctx context.Context, ex *exchange.Exchange, done DoneFunc) bool

// Process implements Processor.
func (f AsyncFunc) Process(ctx context.Context, ex *exchange.Exchange, done DoneFunc) bool {
	return f(ctx, ex, done)
}

// Func adapts a synchronous function to Processor. A returned error is
// recorded on the exchange.
type Func func(ctx context.Context, ex *exchange.Exchange) error

// Process implements Processor.
func (f Func) Process(ctx context.Context, ex *exchange.Exchange, done DoneFunc) (doneSync bool) {
	doneSync = true
	defer done(true)
	defer recoverInto(ex)
	if err := f(ctx, ex); err != nil {
		ex.SetErr(err)
	}
	return doneSync
}

// Invoke calls p with a guarded done callback. A panic in p is recorded on
// the exchange as a *RecoveryError and completes the call unless done was
// already called. A second call of done by p is ignored.
func Invoke(ctx context.Context, p Processor, ex *exchange.Exchange, done DoneFunc) (doneSync bool) {
	var state atomic.Int32 // 0 pending, 1 done sync, 2 done async
	guarded := func(s bool) {
		v := int32(2)
		if s {
			v = 1
		}
		if state.CompareAndSwap(0, v) {
			done(s)
		}
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if state.CompareAndSwap(0, 1) {
			ex.SetErr(newRecoveryError(r))
			done(true)
			doneSync = true
			return
		}
		doneSync = state.Load() == 1
	}()

	return p.Process(ctx, ex, guarded)
}

// Run invokes p and blocks until it completed. It returns the exception left
// on the exchange.
func Run(ctx context.Context, p Processor, ex *exchange.Exchange) error {
	ch := make(chan struct{})
	Invoke(ctx, p, ex, func(bool) { close(ch) })
	<-ch
	return ex.Err()
}

// continueProcessing reports whether a pipeline may run the next step.
func continueProcessing(ex *exchange.Exchange) bool {
	if ex.Err() != nil || ex.FailureHandled() {
		return false
	}
	return !ex.PropertyBool(exchange.PropertyRouteStop)
}
