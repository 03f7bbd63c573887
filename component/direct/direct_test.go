package direct

import (
	"context"
	"testing"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEndpoint(t *testing.T, c *Component, raw string) endpoint.Endpoint {
	t.Helper()
	u, err := endpoint.ParseURI(raw)
	require.NoError(t, err)
	ep, err := c.CreateEndpoint(u)
	require.NoError(t, err)
	return ep
}

func TestDirect_CallsConsumerSynchronously(t *testing.T) {
	c := NewComponent(Config{})
	ep := newEndpoint(t, c, "direct:upper")

	var callerSeen bool
	cons, err := ep.CreateConsumer(processor.UnitOfWork(processor.Func(func(_ context.Context, ex *exchange.Exchange) error {
		s, _ := ex.In().BodyString()
		ex.In().SetBody(s + "!")
		callerSeen = ex.UnitOfWork().IsDone()
		return nil
	})))
	require.NoError(t, err)
	require.NoError(t, cons.Start(context.Background()))
	defer cons.Stop(context.Background())

	prod, err := ep.CreateProducer()
	require.NoError(t, err)

	var completed int
	ex := exchange.New(exchange.InOnly, exchange.NewMessage("hi", nil))
	ex.AddSynchronization(exchange.SynchronizationFuncs{Complete: func(*exchange.Exchange) { completed++ }})
	require.True(t, ex.UnitOfWork().Begin())

	doneSync := prod.Process(context.Background(), ex, func(bool) {})
	assert.True(t, doneSync)
	assert.Equal(t, "hi!", ex.In().Body())
	assert.False(t, callerSeen)
	assert.Equal(t, 0, completed, "the called route does not complete the caller's unit of work")

	ex.UnitOfWork().Done(ex)
	assert.Equal(t, 1, completed)
}

func TestDirect_NoConsumer(t *testing.T) {
	c := NewComponent(Config{})

	prod, err := newEndpoint(t, c, "direct:missing").CreateProducer()
	require.NoError(t, err)
	err = processor.Run(context.Background(), prod, exchange.New(exchange.InOnly, exchange.NewMessage(nil, nil)))
	assert.ErrorIs(t, err, ErrNoConsumer)
	assert.Equal(t, exchange.KindTransient, exchange.KindOf(err))

	prod, err = newEndpoint(t, c, "direct:missing?failIfNoConsumers=false").CreateProducer()
	require.NoError(t, err)
	assert.NoError(t, processor.Run(context.Background(), prod, exchange.New(exchange.InOnly, exchange.NewMessage(nil, nil))))
}

func TestDirect_ConsumerLifecycle(t *testing.T) {
	c := NewComponent(Config{})
	ep := newEndpoint(t, c, "direct:a")

	first, err := ep.CreateConsumer(processor.Stop())
	require.NoError(t, err)
	second, err := ep.CreateConsumer(processor.Stop())
	require.NoError(t, err)

	require.NoError(t, first.Start(context.Background()))
	err = second.Start(context.Background())
	assert.ErrorIs(t, err, ErrConsumerExists)
	assert.Equal(t, exchange.KindConfiguration, exchange.KindOf(err))

	require.NoError(t, first.Stop(context.Background()))
	require.NoError(t, second.Start(context.Background()))
}

func TestDirect_InvalidURI(t *testing.T) {
	c := NewComponent(Config{})
	for _, raw := range []string{"direct:", "direct:a?unknown=1", "direct:a?failIfNoConsumers=maybe"} {
		u, err := endpoint.ParseURI(raw)
		require.NoError(t, err)
		_, err = c.CreateEndpoint(u)
		assert.ErrorIs(t, err, endpoint.ErrInvalidURI, raw)
	}
}
