// Package mock provides recording endpoints with expectations for testing
// routes.
//
//	m := mock.NewComponent()
//	ctx.AddComponent(mock.Scheme, m)
//	...
//	result := m.Endpoint("result")
//	result.ExpectedBodiesReceived("A", "B")
//	err := result.AssertIsSatisfied(ctx)
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/expr"
	"github.com/fxsml/goroute/processor"
)

// ErrNotSatisfied is returned by AssertIsSatisfied when an expectation fails.
var ErrNotSatisfied = errors.New("mock: expectations not satisfied")

// Scheme is the URI scheme of the component.
const Scheme = "mock"

// Component creates mock endpoints. Endpoints are singletons per name.
type Component struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

// NewComponent creates a mock component.
func NewComponent() *Component {
	return &Component{endpoints: make(map[string]*Endpoint)}
}

// CreateEndpoint implements endpoint.Component.
func (c *Component) CreateEndpoint(uri endpoint.URI) (endpoint.Endpoint, error) {
	if uri.Remaining == "" {
		return nil, exchange.Configuration(fmt.Errorf("%w: mock endpoint needs a name", endpoint.ErrInvalidURI))
	}
	ep := c.Endpoint(uri.Remaining)
	if uri.Params.Has("expectedCount") {
		ep.ExpectedMessageCount(uri.Params.Int("expectedCount", 0))
	}
	if err := uri.Params.Err(); err != nil {
		return nil, err
	}
	return ep, nil
}

// Endpoint returns the endpoint for name, creating it if needed.
func (c *Component) Endpoint(name string) *Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ep, ok := c.endpoints[name]; ok {
		return ep
	}
	ep := &Endpoint{name: name, expectedCount: -1, changed: make(chan struct{})}
	c.endpoints[name] = ep
	return ep
}

// Endpoints returns all endpoints created so far.
func (c *Component) Endpoints() []*Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	eps := make([]*Endpoint, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		eps = append(eps, ep)
	}
	return eps
}

type expectation struct {
	index     int // -1 applies to every exchange
	predicate expr.Predicate
	desc      string
}

// Endpoint records the exchanges it receives.
type Endpoint struct {
	name string

	mu            sync.Mutex
	received      []*exchange.Exchange
	expectedCount int
	expectations  []expectation
	whenAny       processor.Processor
	changed       chan struct{}
}

// URI implements endpoint.Endpoint.
func (e *Endpoint) URI() string { return Scheme + ":" + e.name }

// Pattern implements endpoint.Endpoint.
func (e *Endpoint) Pattern() exchange.Pattern { return exchange.InOnly }

// Singleton implements endpoint.Endpoint.
func (e *Endpoint) Singleton() bool { return true }

// CreateProducer implements endpoint.Endpoint.
func (e *Endpoint) CreateProducer() (endpoint.Producer, error) {
	return endpoint.NewProducer(processor.AsyncFunc(e.receive)), nil
}

// CreateConsumer implements endpoint.Endpoint. Mock endpoints only receive.
func (e *Endpoint) CreateConsumer(processor.Processor) (endpoint.Consumer, error) {
	return nil, exchange.Configuration(fmt.Errorf("mock: %s cannot be consumed from", e.URI()))
}

func (e *Endpoint) receive(ctx context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
	e.mu.Lock()
	e.received = append(e.received, ex.Copy())
	close(e.changed)
	e.changed = make(chan struct{})
	whenAny := e.whenAny
	e.mu.Unlock()

	if whenAny == nil {
		done(true)
		return true
	}
	return processor.Invoke(ctx, whenAny, ex, done)
}

// WhenAnyExchangeReceived runs p on every received exchange, for example to
// simulate a failing endpoint.
func (e *Endpoint) WhenAnyExchangeReceived(p processor.Processor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.whenAny = p
}

// ExpectedMessageCount expects exactly n exchanges.
func (e *Endpoint) ExpectedMessageCount(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expectedCount = n
}

// ExpectedBodiesReceived expects the bodies in order. It sets the expected
// message count to len(bodies).
func (e *Endpoint) ExpectedBodiesReceived(bodies ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expectedCount = len(bodies)
	for i, b := range bodies {
		e.expectations = append(e.expectations, expectation{
			index:     i,
			predicate: expr.Equals(expr.Body(), b),
			desc:      fmt.Sprintf("body %v", b),
		})
	}
}

// ExpectedHeaderReceived expects every exchange to carry the header value.
func (e *Endpoint) ExpectedHeaderReceived(name string, value any) {
	e.Expect(expr.HeaderEquals(name, value), fmt.Sprintf("header %s=%v", name, value))
}

// Expect adds a predicate every received exchange must match.
func (e *Endpoint) Expect(p expr.Predicate, desc string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expectations = append(e.expectations, expectation{index: -1, predicate: p, desc: desc})
}

// Received returns copies of the received exchanges in arrival order.
func (e *Endpoint) Received() []*exchange.Exchange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*exchange.Exchange(nil), e.received...)
}

// ReceivedBodies returns the In bodies of the received exchanges.
func (e *Endpoint) ReceivedBodies() []any {
	received := e.Received()
	bodies := make([]any, len(received))
	for i, ex := range received {
		bodies[i] = ex.In().Body()
	}
	return bodies
}

// Reset clears received exchanges and expectations.
func (e *Endpoint) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.received = nil
	e.expectedCount = -1
	e.expectations = nil
	e.whenAny = nil
}

// AssertIsSatisfied waits until the expected message count was reached or
// ctx ends, then checks all expectations.
func (e *Endpoint) AssertIsSatisfied(ctx context.Context) error {
	for {
		e.mu.Lock()
		n, want, changed := len(e.received), e.expectedCount, e.changed
		e.mu.Unlock()
		if want < 0 || n >= want {
			break
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s received %d of %d exchanges", ErrNotSatisfied, e.URI(), n, want)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.expectedCount >= 0 && len(e.received) != e.expectedCount {
		errs = append(errs, fmt.Errorf("received %d of %d exchanges", len(e.received), e.expectedCount))
	}
	for _, x := range e.expectations {
		for i, ex := range e.received {
			if x.index >= 0 && x.index != i {
				continue
			}
			ok, err := x.predicate(ex)
			if err != nil {
				errs = append(errs, fmt.Errorf("exchange %d: %s: %w", i, x.desc, err))
			} else if !ok {
				errs = append(errs, fmt.Errorf("exchange %d: expected %s, got body %v", i, x.desc, ex.In().Body()))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrNotSatisfied, e.URI(), errors.Join(errs...))
	}
	return nil
}
