package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
	amqp "github.com/rabbitmq/amqp091-go"
)

// CreateConsumer implements endpoint.Endpoint.
func (e *Endpoint) CreateConsumer(p processor.Processor) (endpoint.Consumer, error) {
	return &consumer{endpoint: e, processor: processor.UnitOfWork(p)}, nil
}

type consumer struct {
	endpoint  *Endpoint
	processor processor.Processor

	mu     sync.Mutex
	ch     Channel
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *consumer) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		return nil
	}
	e := c.endpoint
	ch, err := e.cfg.Dial(e.url)
	if err != nil {
		return exchange.Transient(err)
	}
	deliveries, queue, err := c.setup(ch)
	if err != nil {
		_ = ch.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.ch, c.cancel, c.done = ch, cancel, make(chan struct{})
	go c.run(ctx, deliveries, c.done)

	e.cfg.Logger.Info("RabbitMQ consumer started",
		"exchange", e.exchangeName, "queue", queue, "binding", e.bindingKey)
	return nil
}

func (c *consumer) setup(ch Channel) (<-chan amqp.Delivery, string, error) {
	e := c.endpoint
	if err := ch.Qos(e.prefetchCount, 0, false); err != nil {
		return nil, "", fmt.Errorf("rabbitmq: set qos: %w", err)
	}
	if err := e.declareExchange(ch); err != nil {
		return nil, "", err
	}
	// A queue without name is server-named, exclusive and auto-deleted.
	anonymous := e.queue == ""
	q, err := ch.QueueDeclare(e.queue, e.durable && !anonymous, anonymous, anonymous, false, nil)
	if err != nil {
		return nil, "", fmt.Errorf("rabbitmq: declare queue %s: %w", e.queue, err)
	}
	if err := ch.QueueBind(q.Name, e.bindingKey, e.exchangeName, false, nil); err != nil {
		return nil, "", fmt.Errorf("rabbitmq: bind queue %s: %w", q.Name, err)
	}
	deliveries, err := ch.Consume(q.Name, "", e.autoAck, anonymous, false, false, nil)
	if err != nil {
		return nil, "", fmt.Errorf("rabbitmq: consume %s: %w", q.Name, err)
	}
	return deliveries, q.Name, nil
}

func (c *consumer) run(ctx context.Context, deliveries <-chan amqp.Delivery, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				c.endpoint.cfg.Logger.Debug("RabbitMQ delivery channel closed", "exchange", c.endpoint.exchangeName)
				return
			}
			c.process(ctx, d)
		}
	}
}

func (c *consumer) process(ctx context.Context, d amqp.Delivery) {
	e := c.endpoint
	ex := exchange.New(exchange.InOnly, toMessage(d))
	ex.SetProperty(exchange.PropertyFromEndpoint, e.uri)
	if !e.autoAck {
		ex.AddSynchronization(exchange.SynchronizationFuncs{
			Complete: func(*exchange.Exchange) {
				if err := d.Ack(false); err != nil {
					e.cfg.Logger.Error("Failed to ack delivery", "deliveryTag", d.DeliveryTag, "error", err)
				}
			},
			Failure: func(ex *exchange.Exchange) {
				requeue := e.requeue && exchange.KindOf(ex.Err()) != exchange.KindPermanent
				e.cfg.Logger.Warn("Rejecting delivery",
					"deliveryTag", d.DeliveryTag, "requeue", requeue, "exchangeId", ex.ID(), "error", ex.Err())
				if err := d.Nack(false, requeue); err != nil {
					e.cfg.Logger.Error("Failed to nack delivery", "deliveryTag", d.DeliveryTag, "error", err)
				}
			},
		})
	}
	_ = processor.Run(ctx, c.processor, ex)
}

func (c *consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	err := c.ch.Close()
	c.ch = nil
	c.endpoint.cfg.Logger.Info("RabbitMQ consumer stopped", "exchange", c.endpoint.exchangeName)
	return err
}
