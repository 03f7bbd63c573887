package kafka

import (
	"context"
	"errors"
	"sync"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
	"github.com/segmentio/kafka-go"
)

// CreateConsumer implements endpoint.Endpoint.
func (e *Endpoint) CreateConsumer(p processor.Processor) (endpoint.Consumer, error) {
	return &consumer{endpoint: e, processor: processor.UnitOfWork(p)}, nil
}

type consumer struct {
	endpoint  *Endpoint
	processor processor.Processor

	mu     sync.Mutex
	reader Reader
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *consumer) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.reader = c.endpoint.cfg.NewReader(c.endpoint.readerConfig())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.reader, c.done)

	c.endpoint.cfg.Logger.Info("Kafka consumer started",
		"topic", c.endpoint.topic, "group", c.endpoint.groupID, "brokers", c.endpoint.brokers)
	return nil
}

func (c *consumer) run(ctx context.Context, r Reader, done chan struct{}) {
	defer close(done)
	log := c.endpoint.cfg.Logger
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Failed to fetch kafka message", "topic", c.endpoint.topic, "error", err)
			continue
		}
		if !c.process(ctx, r, msg) {
			log.Warn("Pausing kafka consumer after failed exchange",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			<-ctx.Done()
			return
		}
	}
}

// process runs one message through the route and reports whether its
// offset was committed.
func (c *consumer) process(ctx context.Context, r Reader, msg kafka.Message) bool {
	ex := exchange.New(exchange.InOnly, toMessage(msg))
	ex.SetProperty(exchange.PropertyFromEndpoint, c.endpoint.uri)

	committed := false
	ex.AddSynchronization(exchange.SynchronizationFuncs{
		Complete: func(*exchange.Exchange) {
			if c.endpoint.groupID == "" {
				committed = true
				return
			}
			if err := r.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
				c.endpoint.cfg.Logger.Error("Failed to commit offset",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
				return
			}
			committed = true
		},
		Failure: func(ex *exchange.Exchange) {
			c.endpoint.cfg.Logger.Warn("Exchange failed, offset not committed",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
				"exchangeId", ex.ID(), "error", ex.Err())
		},
	})
	_ = processor.Run(ctx, c.processor, ex)
	return committed
}

func toMessage(msg kafka.Message) *exchange.Message {
	headers := map[string]any{
		HeaderTopic:     msg.Topic,
		HeaderPartition: msg.Partition,
		HeaderOffset:    msg.Offset,
	}
	if len(msg.Key) > 0 {
		headers[HeaderKey] = string(msg.Key)
	}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return exchange.NewMessage(msg.Value, headers)
}

func (c *consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader == nil {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	err := c.reader.Close()
	c.reader = nil
	c.endpoint.cfg.Logger.Info("Kafka consumer stopped", "topic", c.endpoint.topic)
	return err
}
