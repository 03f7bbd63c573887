package errorhandler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/expr"
	"github.com/fxsml/goroute/pool"
	"github.com/fxsml/goroute/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	exchanges []*exchange.Exchange
}

func (r *recorder) Process(ctx context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
	r.mu.Lock()
	r.exchanges = append(r.exchanges, ex)
	r.mu.Unlock()
	done(true)
	return true
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exchanges)
}

func failing(calls *atomic.Int32, err error) processor.Processor {
	return processor.Func(func(context.Context, *exchange.Exchange) error {
		calls.Add(1)
		return err
	})
}

func newScheduler(t *testing.T) *pool.Scheduler {
	s := pool.NewScheduler()
	t.Cleanup(s.Stop)
	return s
}

func newExchange() *exchange.Exchange {
	return exchange.New(exchange.InOnly, exchange.NewMessage("body", nil))
}

func TestDeadLetterChannel_RedeliveryBound(t *testing.T) {
	for _, k := range []int{0, 1, 3} {
		var calls atomic.Int32
		boom := errors.New("boom")
		dl := &recorder{}
		h, err := DeadLetterChannel(Config{
			Policy:    RedeliveryPolicy{MaximumRedeliveries: k, RedeliveryDelay: time.Millisecond},
			Scheduler: newScheduler(t),
		}, dl, failing(&calls, boom))
		require.NoError(t, err)

		ex := newExchange()
		require.NoError(t, processor.Run(context.Background(), h, ex))

		assert.Equal(t, int32(k+1), calls.Load(), "k=%d", k)
		assert.Equal(t, 1, dl.count())
		assert.True(t, ex.FailureHandled())
		caught, _ := ex.Property(exchange.PropertyExceptionCaught)
		assert.ErrorIs(t, caught.(error), boom)
		assert.Equal(t, k, ex.Redelivery("errorHandler").Count)
	}
}

func TestDeadLetterChannel_Headers(t *testing.T) {
	var calls atomic.Int32
	dl := &recorder{}
	h, err := DeadLetterChannel(Config{
		Policy:        RedeliveryPolicy{MaximumRedeliveries: 2},
		Scheduler:     newScheduler(t),
		DeadLetterURI: "mock:dead",
	}, dl, failing(&calls, errors.New("boom")))
	require.NoError(t, err)

	ex := newExchange()
	require.NoError(t, processor.Run(context.Background(), h, ex))

	in := ex.In()
	v, _ := in.Header(exchange.HeaderRedelivered)
	assert.Equal(t, true, v)
	v, _ = in.Header(exchange.HeaderRedeliveryCounter)
	assert.Equal(t, 2, v)
	v, _ = in.Header(exchange.HeaderRedeliveryMaxCount)
	assert.Equal(t, 2, v)
	v, _ = in.Header(exchange.HeaderRedeliveryExhausted)
	assert.Equal(t, true, v)
	v, _ = ex.Property(exchange.PropertyFailureEndpoint)
	assert.Equal(t, "mock:dead", v)
}

func TestDeadLetterChannel_RecoversOnRedelivery(t *testing.T) {
	var calls atomic.Int32
	var redelivered atomic.Int32
	p := processor.Func(func(context.Context, *exchange.Exchange) error {
		if calls.Add(1) < 3 {
			return exchange.Transient(errors.New("blip"))
		}
		return nil
	})
	dl := &recorder{}
	h, err := DeadLetterChannel(Config{
		Policy:       RedeliveryPolicy{MaximumRedeliveries: 5},
		Scheduler:    newScheduler(t),
		OnRedelivery: func(*exchange.Exchange) { redelivered.Add(1) },
	}, dl, p)
	require.NoError(t, err)

	ex := newExchange()
	require.NoError(t, processor.Run(context.Background(), h, ex))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(2), redelivered.Load())
	assert.Equal(t, 0, dl.count())
	assert.False(t, ex.FailureHandled())
}

func TestDeadLetterChannel_NonRetryableGoesStraightToDeadLetter(t *testing.T) {
	var calls atomic.Int32
	dl := &recorder{}
	h, err := DeadLetterChannel(Config{
		Policy:    RedeliveryPolicy{MaximumRedeliveries: 5},
		Scheduler: newScheduler(t),
	}, dl, failing(&calls, exchange.Permanent(errors.New("invalid"))))
	require.NoError(t, err)

	ex := newExchange()
	require.NoError(t, processor.Run(context.Background(), h, ex))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, dl.count())
	_, ok := ex.In().Header(exchange.HeaderRedeliveryExhausted)
	assert.False(t, ok)
}

func TestDeadLetterChannel_DeadLetterFailureIsCleared(t *testing.T) {
	var calls, dlCalls atomic.Int32
	h, err := DeadLetterChannel(Config{}, failing(&dlCalls, errors.New("dead letter down")),
		failing(&calls, errors.New("boom")))
	require.NoError(t, err)

	ex := newExchange()
	require.NoError(t, processor.Run(context.Background(), h, ex))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), dlCalls.Load())
	assert.True(t, ex.FailureHandled())
}

func TestDeadLetterChannel_DeadLetterPipelineRuns(t *testing.T) {
	var calls atomic.Int32
	dl := &recorder{}
	h, err := DeadLetterChannel(Config{},
		processor.Pipeline(processor.SetHeader("dead", expr.Constant(true)), dl),
		failing(&calls, errors.New("boom")))
	require.NoError(t, err)

	ex := newExchange()
	require.NoError(t, processor.Run(context.Background(), h, ex))
	require.Equal(t, 1, dl.count())
	v, _ := ex.In().Header("dead")
	assert.Equal(t, true, v)
}

func TestDefaultErrorHandler_LeavesFailureUnhandled(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	h, err := New(Config{
		Policy:    RedeliveryPolicy{MaximumRedeliveries: 2},
		Scheduler: newScheduler(t),
	}, failing(&calls, boom))
	require.NoError(t, err)

	ex := newExchange()
	assert.ErrorIs(t, processor.Run(context.Background(), h, ex), boom)
	assert.Equal(t, int32(3), calls.Load())
	assert.False(t, ex.FailureHandled())
}

func TestHandler_AsyncNext(t *testing.T) {
	var calls atomic.Int32
	next := processor.AsyncFunc(func(_ context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
		go func() {
			calls.Add(1)
			ex.SetErr(errors.New("async boom"))
			done(false)
		}()
		return false
	})
	dl := &recorder{}
	h, err := DeadLetterChannel(Config{
		Policy:    RedeliveryPolicy{MaximumRedeliveries: 2},
		Scheduler: newScheduler(t),
	}, dl, next)
	require.NoError(t, err)

	ex := newExchange()
	require.NoError(t, processor.Run(context.Background(), h, ex))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, dl.count())
}

func TestHandler_RetryWhile(t *testing.T) {
	var calls atomic.Int32
	dl := &recorder{}
	h, err := DeadLetterChannel(Config{
		Policy: RedeliveryPolicy{
			RetryWhile: func(ex *exchange.Exchange) (bool, error) {
				return ex.Redelivery("errorHandler").Count < 4, nil
			},
		},
		Scheduler: newScheduler(t),
	}, dl, failing(&calls, errors.New("boom")))
	require.NoError(t, err)

	require.NoError(t, processor.Run(context.Background(), h, newExchange()))
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, 1, dl.count())
}

func TestHandler_SchedulerStopFailsPendingRedelivery(t *testing.T) {
	var calls atomic.Int32
	s := pool.NewScheduler()
	dl := &recorder{}
	h, err := DeadLetterChannel(Config{
		Policy:    RedeliveryPolicy{MaximumRedeliveries: 3, RedeliveryDelay: time.Hour},
		Scheduler: s,
	}, dl, failing(&calls, errors.New("boom")))
	require.NoError(t, err)

	ex := newExchange()
	doneCh := make(chan struct{})
	completed := h.Process(context.Background(), ex, func(bool) { close(doneCh) })
	assert.False(t, completed)

	s.Stop()
	<-doneCh
	assert.Equal(t, exchange.KindShutdownForced, exchange.KindOf(ex.Err()))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, dl.count())
}

func TestHandler_NestedHandlersKeepSeparateState(t *testing.T) {
	var calls atomic.Int32
	s := newScheduler(t)
	inner, err := New(Config{Name: "inner", Policy: RedeliveryPolicy{MaximumRedeliveries: 1}, Scheduler: s},
		failing(&calls, errors.New("boom")))
	require.NoError(t, err)
	dl := &recorder{}
	outer, err := DeadLetterChannel(Config{Name: "outer", Policy: RedeliveryPolicy{MaximumRedeliveries: 1}, Scheduler: s},
		dl, inner)
	require.NoError(t, err)

	ex := newExchange()
	require.NoError(t, processor.Run(context.Background(), outer, ex))
	// the inner redelivery count survives the outer redelivery
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, ex.Redelivery("inner").Count)
	assert.Equal(t, 1, ex.Redelivery("outer").Count)
}

func TestNew_ConfigurationErrors(t *testing.T) {
	next := processor.Stop()

	_, err := New(Config{Policy: RedeliveryPolicy{MaximumRedeliveries: -1}}, next)
	assert.Equal(t, exchange.KindConfiguration, exchange.KindOf(err))

	_, err = New(Config{Policy: RedeliveryPolicy{MaximumRedeliveries: 1}}, next)
	assert.ErrorIs(t, err, ErrNoScheduler)

	_, err = DeadLetterChannel(Config{}, nil, next)
	assert.Equal(t, exchange.KindConfiguration, exchange.KindOf(err))
}
