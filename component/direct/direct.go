// Package direct provides synchronous in-process calls between routes.
//
// A producer sending to "direct:name" runs the consumer route of the same
// name on the caller's goroutine with the caller's exchange, so the Unit of
// Work of the calling route also covers the called route.
package direct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
)

var (
	// ErrNoConsumer is recorded on exchanges sent to a direct endpoint without a started consumer.
	ErrNoConsumer = errors.New("direct: no consumer")
	// ErrConsumerExists is returned when a second consumer starts on the same name.
	ErrConsumerExists = errors.New("direct: consumer already exists")
)

// Scheme is the URI scheme of the component.
const Scheme = "direct"

// Config configures the component.
type Config struct {
	// Logger is used when exchanges are dropped. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) parse() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Component creates direct endpoints and holds the started consumers.
type Component struct {
	cfg Config

	mu        sync.RWMutex
	consumers map[string]processor.Processor
}

// NewComponent creates a direct component.
func NewComponent(cfg Config) *Component {
	return &Component{
		cfg:       cfg.parse(),
		consumers: make(map[string]processor.Processor),
	}
}

// CreateEndpoint implements endpoint.Component.
func (c *Component) CreateEndpoint(uri endpoint.URI) (endpoint.Endpoint, error) {
	if uri.Remaining == "" {
		return nil, exchange.Configuration(fmt.Errorf("%w: direct endpoint needs a name", endpoint.ErrInvalidURI))
	}
	ep := &Endpoint{
		name:              uri.Remaining,
		failIfNoConsumers: uri.Params.Bool("failIfNoConsumers", true),
		component:         c,
	}
	if err := uri.Params.Err(); err != nil {
		return nil, err
	}
	ep.uri = uri.String()
	return ep, nil
}

func (c *Component) consumer(name string) (processor.Processor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.consumers[name]
	return p, ok
}

func (c *Component) register(name string, p processor.Processor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.consumers[name]; ok {
		return exchange.Configuration(fmt.Errorf("%w: %s:%s", ErrConsumerExists, Scheme, name))
	}
	c.consumers[name] = p
	return nil
}

func (c *Component) unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.consumers, name)
}

// Endpoint is a named synchronous call target.
type Endpoint struct {
	uri               string
	name              string
	failIfNoConsumers bool
	component         *Component
}

// URI implements endpoint.Endpoint.
func (e *Endpoint) URI() string { return e.uri }

// Pattern implements endpoint.Endpoint.
func (e *Endpoint) Pattern() exchange.Pattern { return exchange.InOnly }

// Singleton implements endpoint.Endpoint.
func (e *Endpoint) Singleton() bool { return true }

// CreateProducer implements endpoint.Endpoint.
func (e *Endpoint) CreateProducer() (endpoint.Producer, error) {
	return endpoint.NewProducer(processor.AsyncFunc(e.send)), nil
}

func (e *Endpoint) send(ctx context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
	p, ok := e.component.consumer(e.name)
	if !ok {
		if e.failIfNoConsumers {
			ex.SetErr(exchange.Transient(fmt.Errorf("%w: %s", ErrNoConsumer, e.uri)))
		} else {
			e.component.cfg.Logger.Warn("Dropping exchange without direct consumer",
				"endpoint", e.uri, "exchangeId", ex.ID())
		}
		done(true)
		return true
	}
	return processor.Invoke(ctx, p, ex, done)
}

// CreateConsumer implements endpoint.Endpoint. The consumer is reachable
// between Start and Stop.
func (e *Endpoint) CreateConsumer(p processor.Processor) (endpoint.Consumer, error) {
	return &consumer{endpoint: e, processor: p}, nil
}

type consumer struct {
	endpoint  *Endpoint
	processor processor.Processor
}

func (c *consumer) Start(context.Context) error {
	return c.endpoint.component.register(c.endpoint.name, c.processor)
}

func (c *consumer) Stop(context.Context) error {
	c.endpoint.component.unregister(c.endpoint.name)
	return nil
}
