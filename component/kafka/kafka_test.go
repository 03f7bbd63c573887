package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	cfg      kafka.ReaderConfig
	messages chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.messages:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeWriter struct {
	topic   string
	brokers []string
	err     error

	mu      sync.Mutex
	written []kafka.Message
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newComponent(r *fakeReader, w *fakeWriter) *Component {
	return NewComponent(Config{
		Brokers: []string{"localhost:9092"},
		NewReader: func(cfg kafka.ReaderConfig) Reader {
			r.cfg = cfg
			return r
		},
		NewWriter: func(brokers []string, topic string) Writer {
			w.brokers, w.topic = brokers, topic
			return w
		},
	})
}

func createEndpoint(t *testing.T, c *Component, raw string) *Endpoint {
	t.Helper()
	u, err := endpoint.ParseURI(raw)
	require.NoError(t, err)
	ep, err := c.CreateEndpoint(u)
	require.NoError(t, err)
	return ep.(*Endpoint)
}

func TestConsumer_CommitsCompletedExchanges(t *testing.T) {
	r := &fakeReader{messages: make(chan kafka.Message, 10)}
	ep := createEndpoint(t, newComponent(r, nil), "kafka:orders?groupId=billing&startOffset=first&brokers=a:1,b:2")

	var mu sync.Mutex
	var bodies []string
	cons, err := ep.CreateConsumer(processor.Func(func(_ context.Context, ex *exchange.Exchange) error {
		s, err := ex.In().BodyString()
		mu.Lock()
		bodies = append(bodies, s)
		mu.Unlock()
		key, _ := ex.In().Header(HeaderKey)
		assert.Equal(t, "k", key)
		trace, _ := ex.In().Header("trace")
		assert.Equal(t, "t1", trace)
		return err
	}))
	require.NoError(t, err)
	require.NoError(t, cons.Start(context.Background()))

	assert.Equal(t, []string{"a:1", "b:2"}, r.cfg.Brokers)
	assert.Equal(t, "billing", r.cfg.GroupID)
	assert.Equal(t, kafka.FirstOffset, r.cfg.StartOffset)

	for i := range 3 {
		r.messages <- kafka.Message{
			Topic: "orders", Offset: int64(i), Key: []byte("k"), Value: []byte("order"),
			Headers: []kafka.Header{{Key: "trace", Value: []byte("t1")}},
		}
	}
	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []int64{0, 1, 2}, r.commits())

	require.NoError(t, cons.Stop(context.Background()))
	assert.True(t, r.closed)
	assert.Equal(t, []string{"order", "order", "order"}, bodies)
}

func TestConsumer_PausesOnFailure(t *testing.T) {
	r := &fakeReader{messages: make(chan kafka.Message, 10)}
	ep := createEndpoint(t, newComponent(r, nil), "kafka:orders?groupId=billing")

	processed := make(chan int64, 10)
	cons, err := ep.CreateConsumer(processor.Func(func(_ context.Context, ex *exchange.Exchange) error {
		offset, _ := exchange.HeaderAs[int64](ex.In(), HeaderOffset)
		processed <- offset
		if offset == 1 {
			return exchange.Permanent(assert.AnError)
		}
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, cons.Start(context.Background()))

	for i := range 3 {
		r.messages <- kafka.Message{Topic: "orders", Offset: int64(i)}
	}
	assert.Equal(t, int64(0), <-processed)
	assert.Equal(t, int64(1), <-processed)
	select {
	case o := <-processed:
		t.Fatalf("offset %d processed after failure", o)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, []int64{0}, r.commits())
	require.NoError(t, cons.Stop(context.Background()))
}

func TestProducer(t *testing.T) {
	w := &fakeWriter{}
	ep := createEndpoint(t, newComponent(nil, w), "kafka:payments")
	prod, err := ep.CreateProducer()
	require.NoError(t, err)

	ex := exchange.New(exchange.InOnly, exchange.NewMessage("paid", map[string]any{
		HeaderKey:                        "customer-1",
		"tenant":                         "acme",
		"count":                          3,
		exchange.HeaderRedeliveryCounter: 1,
		HeaderTopic:                      "other",
	}))
	err = processor.Run(context.Background(), prod, ex)
	assert.Equal(t, exchange.KindShutdownForced, exchange.KindOf(err))
	assert.ErrorIs(t, err, ErrProducerStopped)

	require.NoError(t, prod.Start(context.Background()))
	ex.SetErr(nil)
	require.NoError(t, processor.Run(context.Background(), prod, ex))

	assert.Equal(t, "payments", w.topic)
	assert.Equal(t, []string{"localhost:9092"}, w.brokers)
	require.Len(t, w.written, 1)
	msg := w.written[0]
	assert.Equal(t, "paid", string(msg.Value))
	assert.Equal(t, "customer-1", string(msg.Key))
	assert.Equal(t, []kafka.Header{{Key: "tenant", Value: []byte("acme")}}, msg.Headers)

	require.NoError(t, prod.Stop(context.Background()))
	assert.True(t, w.closed)
}

func TestProducer_WriteFailureIsTransient(t *testing.T) {
	w := &fakeWriter{err: assert.AnError}
	ep := createEndpoint(t, newComponent(nil, w), "kafka:payments")
	prod, err := ep.CreateProducer()
	require.NoError(t, err)
	require.NoError(t, prod.Start(context.Background()))

	err = processor.Run(context.Background(), prod, exchange.New(exchange.InOnly, exchange.NewMessage("x", nil)))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, exchange.KindTransient, exchange.KindOf(err))
}

func TestCreateEndpoint_Invalid(t *testing.T) {
	for _, raw := range []string{
		"kafka:",
		"kafka:orders?startOffset=middle",
		"kafka:orders?partition=1",
		"kafka:orders?maxWait=soon",
	} {
		u, err := endpoint.ParseURI(raw)
		require.NoError(t, err)
		_, err = newComponent(nil, nil).CreateEndpoint(u)
		assert.ErrorIs(t, err, endpoint.ErrInvalidURI, raw)
		assert.Equal(t, exchange.KindConfiguration, exchange.KindOf(err), raw)
	}

	u, err := endpoint.ParseURI("kafka:orders")
	require.NoError(t, err)
	_, err = NewComponent(Config{}).CreateEndpoint(u)
	assert.ErrorIs(t, err, ErrNoBrokers)
}
