package route

import (
	"context"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
)

// Send sends ex to the endpoint at uri and blocks until its Unit of Work
// completed. It returns the exception left on the exchange.
func (c *Context) Send(ctx context.Context, uri string, ex *exchange.Exchange) error {
	p, err := c.producer(ctx, uri)
	if err != nil {
		return err
	}
	return processor.Run(ctx, processor.UnitOfWork(p), ex)
}

// SendBody sends an InOnly exchange with body and headers to uri.
func (c *Context) SendBody(ctx context.Context, uri string, body any, headers map[string]any) error {
	return c.Send(ctx, uri, exchange.New(exchange.InOnly, exchange.NewMessage(body, headers)))
}

// Request sends an InOut exchange with body and headers to uri and returns
// the reply: the Out message if one was set, the In message otherwise.
func (c *Context) Request(ctx context.Context, uri string, body any, headers map[string]any) (*exchange.Message, error) {
	ex := exchange.New(exchange.InOut, exchange.NewMessage(body, headers))
	if err := c.Send(ctx, uri, ex); err != nil {
		return nil, err
	}
	return ex.Result(), nil
}

// producer returns the started template producer for uri.
func (c *Context) producer(ctx context.Context, uri string) (endpoint.Producer, error) {
	ep, err := c.Endpoint(uri)
	if err != nil {
		return nil, err
	}
	key := ep.URI()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	p, ok := c.producers[key]
	c.mu.Unlock()
	if ok {
		return p, nil
	}

	p, err = ep.CreateProducer()
	if err != nil {
		return nil, err
	}
	if err := p.Start(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.producers[key]; ok {
		_ = p.Stop(ctx)
		return existing, nil
	}
	c.producers[key] = p
	return p, nil
}
