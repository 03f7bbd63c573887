package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
	"github.com/nats-io/nats.go"
)

// CreateProducer implements endpoint.Endpoint.
func (e *Endpoint) CreateProducer() (endpoint.Producer, error) {
	return &producer{endpoint: e}, nil
}

type producer struct {
	endpoint *Endpoint

	mu   sync.RWMutex
	conn Conn
}

func (p *producer) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return nil
	}
	conn, err := p.endpoint.cfg.Connect(p.endpoint.url)
	if err != nil {
		return exchange.Transient(err)
	}
	p.conn = conn
	return nil
}

func (p *producer) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}

func (p *producer) Process(ctx context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
	return processor.Func(p.send).Process(ctx, ex, done)
}

func (p *producer) send(ctx context.Context, ex *exchange.Exchange) error {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil {
		return exchange.ShutdownForced(fmt.Errorf("%w: %s", ErrNotConnected, p.endpoint.uri))
	}

	msg, err := fromMessage(p.endpoint.subject, ex.In())
	if err != nil {
		return exchange.Permanent(fmt.Errorf("nats: %s: %w", p.endpoint.uri, err))
	}

	if ex.Pattern() != exchange.InOut {
		if err := conn.PublishMsg(msg); err != nil {
			return exchange.Transient(fmt.Errorf("nats: publish to %s: %w", p.endpoint.subject, err))
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.endpoint.requestTimeout)
	defer cancel()
	resp, err := conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return exchange.Transient(fmt.Errorf("nats: request %s: %w", p.endpoint.subject, err))
		}
		return fmt.Errorf("nats: request %s: %w", p.endpoint.subject, err)
	}
	if remote := resp.Header.Get(HeaderError); remote != "" {
		return exchange.Permanent(fmt.Errorf("nats: request %s: %s", p.endpoint.subject, remote))
	}
	ex.SetOut(toMessage(resp))
	return nil
}
