package seda

import (
	"context"
	"testing"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/pool"
	"github.com/fxsml/goroute/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startConsumer(t *testing.T, ep *Endpoint, p processor.Processor) *Consumer {
	t.Helper()
	c, err := ep.Consumer(p)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func TestProducer_InOnlyDoesNotWait(t *testing.T) {
	ep := newEndpoint(t, "seda:fire", Config{})
	prod, err := ep.CreateProducer()
	require.NoError(t, err)

	ex := newExchange("x")
	completed := prod.Process(context.Background(), ex, func(doneSync bool) { assert.True(t, doneSync) })
	assert.True(t, completed)
	assert.Equal(t, 1, ep.Queue().Len())

	queued, err := ep.Queue().Poll(context.Background(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, ex.ID(), queued.ID(), "the queue holds a copy")
	assert.Equal(t, "x", queued.In().Body())
}

func TestProducer_InOutWaitsForReply(t *testing.T) {
	ep := newEndpoint(t, "seda:reply", Config{})
	startConsumer(t, ep, processor.Transform(func(_ context.Context, ex *exchange.Exchange) (any, error) {
		s, _ := ex.In().BodyString()
		return "re: " + s, nil
	}))
	prod, err := ep.CreateProducer()
	require.NoError(t, err)

	ex := exchange.New(exchange.InOut, exchange.NewMessage("hello", nil))
	require.NoError(t, processor.Run(context.Background(), prod, ex))
	require.True(t, ex.HasOut())
	assert.Equal(t, "re: hello", ex.Out().Body())
}

func TestProducer_WaitAlwaysCopiesException(t *testing.T) {
	ep := newEndpoint(t, "seda:fail?waitForTaskToComplete=Always", Config{})
	startConsumer(t, ep, processor.Func(func(context.Context, *exchange.Exchange) error {
		return exchange.Permanent(assert.AnError)
	}))
	prod, err := ep.CreateProducer()
	require.NoError(t, err)

	err = processor.Run(context.Background(), prod, newExchange(nil))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, exchange.KindPermanent, exchange.KindOf(err))
}

func TestProducer_Timeout(t *testing.T) {
	ep := newEndpoint(t, "seda:slow?timeout=20ms", Config{})
	prod, err := ep.CreateProducer()
	require.NoError(t, err)

	ex := exchange.New(exchange.InOut, exchange.NewMessage(nil, nil))
	err = processor.Run(context.Background(), prod, ex)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, exchange.KindTransient, exchange.KindOf(err))
}

func TestProducer_QueueFullAndClosed(t *testing.T) {
	ep := newEndpoint(t, "seda:full?size=1&waitForTaskToComplete=Never", Config{})
	prod, err := ep.CreateProducer()
	require.NoError(t, err)

	require.NoError(t, processor.Run(context.Background(), prod, newExchange(1)))
	err = processor.Run(context.Background(), prod, newExchange(2))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, exchange.KindTransient, exchange.KindOf(err))

	ep.Queue().Close()
	err = processor.Run(context.Background(), prod, newExchange(3))
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.Equal(t, exchange.KindShutdownForced, exchange.KindOf(err))
}

func TestComponent_SharedQueue(t *testing.T) {
	m := pool.NewManager(pool.Config{})
	defer m.Shutdown(context.Background())
	comp := NewComponent(m, Config{})

	parse := func(raw string) endpoint.URI {
		u, err := endpoint.ParseURI(raw)
		require.NoError(t, err)
		return u
	}

	a, err := comp.Endpoint(parse("seda:q?size=5"))
	require.NoError(t, err)
	b, err := comp.Endpoint(parse("seda:q?waitForTaskToComplete=Always"))
	require.NoError(t, err)
	same, err := comp.Endpoint(parse("seda:q?size=5"))
	require.NoError(t, err)

	assert.Same(t, a, same)
	assert.NotSame(t, a, b)
	assert.Same(t, a.Queue(), b.Queue())
	assert.Equal(t, Always, b.Config().WaitForTaskToComplete)

	_, err = comp.Endpoint(parse("seda:q?size=7"))
	assert.Equal(t, exchange.KindConfiguration, exchange.KindOf(err))
	_, err = comp.Endpoint(parse("seda:q?bogus=1"))
	assert.ErrorIs(t, err, endpoint.ErrInvalidURI)
}
