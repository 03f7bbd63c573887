// Package endpoint defines the capability set connectors implement to take
// part in routes.
//
// A [Component] creates [Endpoint] values from URIs of the form
// "scheme:remaining?option=value". An endpoint produces messages into a
// route through a [Consumer] and sends exchanges out of a route through a
// [Producer].
package endpoint

import (
	"context"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
)

// Service is a startable resource.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Consumer feeds exchanges into a processor between Start and Stop.
type Consumer interface {
	Service
}

// Releaser is implemented by consumers that hold a resource from creation
// on, such as a queue registration. Release undoes CreateConsumer for a
// consumer that was never started.
type Releaser interface {
	Release()
}

// Release releases c if it implements Releaser.
func Release(c Consumer) {
	if r, ok := c.(Releaser); ok {
		r.Release()
	}
}

// Producer sends exchanges to an endpoint.
type Producer interface {
	processor.Processor
	Service
}

// Endpoint is an addressable message source or destination.
type Endpoint interface {
	// URI returns the normalized endpoint URI.
	URI() string
	// Pattern returns the exchange pattern used for exchanges the endpoint creates.
	Pattern() exchange.Pattern
	// Singleton reports whether the endpoint may be shared by several routes.
	Singleton() bool
	// CreateProducer creates a producer sending to the endpoint.
	CreateProducer() (Producer, error)
	// CreateConsumer creates a consumer passing received exchanges to p.
	CreateConsumer(p processor.Processor) (Consumer, error)
}

// Component creates endpoints for one URI scheme.
type Component interface {
	CreateEndpoint(uri URI) (Endpoint, error)
}

// ComponentFunc adapts a function to Component.
type ComponentFunc func(uri URI) (Endpoint, error)

// CreateEndpoint implements Component.
func (f ComponentFunc) CreateEndpoint(uri URI) (Endpoint, error) {
	return f(uri)
}

type producer struct {
	processor.Processor
}

func (producer) Start(context.Context) error { return nil }
func (producer) Stop(context.Context) error  { return nil }

// NewProducer adapts a processor without lifecycle to Producer.
func NewProducer(p processor.Processor) Producer {
	return producer{Processor: p}
}
