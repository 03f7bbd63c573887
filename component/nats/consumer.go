package nats

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
	"github.com/nats-io/nats.go"
)

// CreateConsumer implements endpoint.Endpoint.
func (e *Endpoint) CreateConsumer(p processor.Processor) (endpoint.Consumer, error) {
	return &consumer{endpoint: e, processor: processor.UnitOfWork(p)}, nil
}

type consumer struct {
	endpoint  *Endpoint
	processor processor.Processor

	mu     sync.Mutex
	conn   Conn
	sub    Subscription
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *consumer) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, err := c.endpoint.cfg.Connect(c.endpoint.url)
	if err != nil {
		return exchange.Transient(err)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	sub, err := conn.Subscribe(c.endpoint.subject, c.endpoint.queue, func(msg *nats.Msg) { c.handle(conn, msg) })
	if err != nil {
		c.cancel()
		conn.Close()
		return fmt.Errorf("nats: subscribe %s: %w", c.endpoint.subject, err)
	}
	c.conn, c.sub = conn, sub
	c.endpoint.cfg.Logger.Info("NATS subscription started",
		"subject", c.endpoint.subject, "queue", c.endpoint.queue)
	return nil
}

// handle runs on the subscription's dispatch goroutine, so messages of one
// subscription are processed in order.
func (c *consumer) handle(conn Conn, msg *nats.Msg) {
	pattern := exchange.InOnly
	if msg.Reply != "" {
		pattern = exchange.InOut
	}
	ex := exchange.New(pattern, toMessage(msg))
	ex.SetProperty(exchange.PropertyFromEndpoint, c.endpoint.uri)
	if msg.Reply != "" {
		ex.AddSynchronization(exchange.SynchronizationFuncs{
			Complete: func(ex *exchange.Exchange) { c.reply(conn, msg, ex) },
			Failure:  func(ex *exchange.Exchange) { c.reply(conn, msg, ex) },
		})
	}
	_ = processor.Run(c.ctx, c.processor, ex)
}

func (c *consumer) reply(conn Conn, req *nats.Msg, ex *exchange.Exchange) {
	log := c.endpoint.cfg.Logger
	var resp *nats.Msg
	if err := ex.Err(); err != nil {
		resp = nats.NewMsg(req.Reply)
		resp.Header.Set(HeaderError, err.Error())
	} else {
		var convErr error
		resp, convErr = fromMessage(req.Reply, ex.Result())
		if convErr != nil {
			resp = nats.NewMsg(req.Reply)
			resp.Header.Set(HeaderError, convErr.Error())
		}
	}
	if err := conn.PublishMsg(resp); err != nil {
		log.Error("Failed to reply to NATS request",
			"subject", req.Subject, "exchangeId", ex.ID(), "error", err)
	}
}

func (c *consumer) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.sub.Drain()
	c.cancel()
	c.conn.Close()
	c.conn, c.sub = nil, nil
	c.endpoint.cfg.Logger.Info("NATS subscription stopped", "subject", c.endpoint.subject)
	return err
}
