package seda

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/pool"
	"github.com/fxsml/goroute/processor"
)

// ErrMultipleConsumers is returned when a second consumer is created for a queue.
var ErrMultipleConsumers = errors.New("seda: queue already has a consumer")

// Scheme is the URI scheme of the component.
const Scheme = "seda"

type queueRef struct {
	queue    *Queue
	size     int
	consumer *Consumer
}

// Component creates seda endpoints. Endpoints with the same name share one
// queue; options that affect the queue must agree.
type Component struct {
	manager  *pool.Manager
	defaults Config

	mu        sync.Mutex
	queues    map[string]*queueRef
	endpoints map[string]*Endpoint
}

// NewComponent creates a component whose consumers run on pools of manager.
// defaults apply to options an endpoint URI does not set.
func NewComponent(manager *pool.Manager, defaults Config) *Component {
	return &Component{
		manager:   manager,
		defaults:  defaults,
		queues:    make(map[string]*queueRef),
		endpoints: make(map[string]*Endpoint),
	}
}

// CreateEndpoint implements endpoint.Component.
func (c *Component) CreateEndpoint(uri endpoint.URI) (endpoint.Endpoint, error) {
	return c.Endpoint(uri)
}

// Endpoint returns the seda endpoint for uri.
func (c *Component) Endpoint(uri endpoint.URI) (*Endpoint, error) {
	if uri.Remaining == "" {
		return nil, exchange.Configuration(fmt.Errorf("%w: seda endpoint needs a queue name", endpoint.ErrInvalidURI))
	}
	cfg := c.defaults.withParams(uri.Params)
	if err := uri.Params.Err(); err != nil {
		return nil, err
	}
	cfg = cfg.parse()
	key := uri.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if ep, ok := c.endpoints[key]; ok {
		return ep, nil
	}
	ref, ok := c.queues[uri.Remaining]
	if !ok {
		ref = &queueRef{queue: NewQueue(cfg.Size), size: cfg.Size}
		c.queues[uri.Remaining] = ref
	} else if uri.Params.Has("size") && ref.size != cfg.Size {
		return nil, exchange.Configuration(fmt.Errorf("seda: queue %s already exists with size %d, not %d",
			uri.Remaining, ref.size, cfg.Size))
	}

	ep := &Endpoint{
		uri:       key,
		name:      uri.Remaining,
		cfg:       cfg,
		queue:     ref.queue,
		ref:       ref,
		component: c,
	}
	c.endpoints[key] = ep
	return ep, nil
}

// Endpoint is a named in-memory queue.
type Endpoint struct {
	uri       string
	name      string
	cfg       Config
	queue     *Queue
	ref       *queueRef
	component *Component
}

// URI implements endpoint.Endpoint.
func (e *Endpoint) URI() string { return e.uri }

// Pattern implements endpoint.Endpoint.
func (e *Endpoint) Pattern() exchange.Pattern { return exchange.InOnly }

// Singleton implements endpoint.Endpoint.
func (e *Endpoint) Singleton() bool { return true }

// Queue returns the endpoint's queue.
func (e *Endpoint) Queue() *Queue { return e.queue }

// Config returns the effective endpoint configuration.
func (e *Endpoint) Config() Config { return e.cfg }

func (e *Endpoint) queueURI() string { return Scheme + ":" + e.name }

// CreateProducer implements endpoint.Endpoint.
func (e *Endpoint) CreateProducer() (endpoint.Producer, error) {
	return &Producer{endpoint: e}, nil
}

// CreateConsumer implements endpoint.Endpoint. A queue has at most one consumer.
func (e *Endpoint) CreateConsumer(p processor.Processor) (endpoint.Consumer, error) {
	return e.Consumer(p)
}

// Consumer creates the consumer of the endpoint's queue.
func (e *Endpoint) Consumer(p processor.Processor) (*Consumer, error) {
	e.component.mu.Lock()
	defer e.component.mu.Unlock()
	if e.ref.consumer != nil {
		return nil, exchange.Configuration(fmt.Errorf("%w: %s", ErrMultipleConsumers, e.queueURI()))
	}
	c := newConsumer(e, p)
	e.ref.consumer = c
	return c, nil
}

func (e *Endpoint) releaseConsumer(c *Consumer) {
	e.component.mu.Lock()
	defer e.component.mu.Unlock()
	if e.ref.consumer == c {
		e.ref.consumer = nil
	}
}
