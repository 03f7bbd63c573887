package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
	amqp "github.com/rabbitmq/amqp091-go"
)

// CreateProducer implements endpoint.Endpoint.
func (e *Endpoint) CreateProducer() (endpoint.Producer, error) {
	return &producer{endpoint: e}, nil
}

type producer struct {
	endpoint *Endpoint

	mu sync.RWMutex
	ch Channel
}

func (p *producer) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		return nil
	}
	ch, err := p.endpoint.cfg.Dial(p.endpoint.url)
	if err != nil {
		return exchange.Transient(err)
	}
	if err := p.endpoint.declareExchange(ch); err != nil {
		_ = ch.Close()
		return err
	}
	p.ch = ch
	return nil
}

func (p *producer) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

func (p *producer) Process(ctx context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
	return processor.Func(p.send).Process(ctx, ex, done)
}

func (p *producer) send(ctx context.Context, ex *exchange.Exchange) error {
	p.mu.RLock()
	ch := p.ch
	p.mu.RUnlock()
	e := p.endpoint
	if ch == nil {
		return exchange.ShutdownForced(fmt.Errorf("%w: %s", ErrNotConnected, e.uri))
	}

	in := ex.In()
	body, err := in.BodyBytes()
	if err != nil {
		return exchange.Permanent(fmt.Errorf("rabbitmq: %s: %w", e.uri, err))
	}
	key := e.routingKey
	if k, ok := exchange.HeaderAs[string](in, HeaderRoutingKey); ok {
		key = k
	}

	msg := amqp.Publishing{
		MessageId:    ex.ID(),
		Timestamp:    time.Now(),
		DeliveryMode: amqp.Transient,
		Body:         body,
		Headers:      amqp.Table{},
	}
	if e.durable {
		msg.DeliveryMode = amqp.Persistent
	}
	if ct, ok := exchange.HeaderAs[string](in, HeaderContentType); ok {
		msg.ContentType = ct
	}
	for k, v := range in.Headers() {
		if internalHeader(k) {
			continue
		}
		switch v.(type) {
		case string, bool, int, int32, int64, float64, []byte, time.Time:
			msg.Headers[k] = v
		}
	}

	if err := ch.PublishWithContext(ctx, e.exchangeName, key, false, false, msg); err != nil {
		return exchange.Transient(fmt.Errorf("rabbitmq: publish to %s/%s: %w", e.exchangeName, key, err))
	}
	return nil
}
