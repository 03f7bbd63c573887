package route

import (
	"fmt"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/errorhandler"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
)

// builder resolves the steps of one route.
type builder struct {
	ctx      *Context
	route    string
	services []endpoint.Service
}

func (b *builder) pipeline(steps []Step) (processor.Processor, error) {
	ps := make([]processor.Processor, 0, len(steps))
	for i, step := range steps {
		if step == nil {
			return nil, exchange.Configuration(fmt.Errorf("%w: step %d is nil", ErrInvalidRoute, i))
		}
		p, err := step(b)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return processor.Pipeline(ps...), nil
}

// producer creates a producer for uri that starts and stops with the route.
func (b *builder) producer(uri string) (endpoint.Producer, error) {
	ep, err := b.ctx.Endpoint(uri)
	if err != nil {
		return nil, err
	}
	p, err := ep.CreateProducer()
	if err != nil {
		return nil, fmt.Errorf("route: producer for %s: %w", ep.URI(), err)
	}
	b.services = append(b.services, p)
	return p, nil
}

func (b *builder) errorHandler(eh ErrorHandler, next processor.Processor) (processor.Processor, error) {
	cfg := errorhandler.Config{
		Name:         "errorHandler:" + b.route,
		Policy:       eh.Policy,
		Scheduler:    b.ctx.manager.Scheduler(),
		OnRedelivery: eh.OnRedelivery,
		Logger:       b.ctx.cfg.Logger.With("route", b.route),
	}
	if eh.DeadLetterURI == "" {
		return errorhandler.New(cfg, next)
	}
	dl, err := b.producer(eh.DeadLetterURI)
	if err != nil {
		return nil, err
	}
	cfg.DeadLetterURI, _ = endpoint.NormalizeURI(eh.DeadLetterURI)
	return errorhandler.DeadLetterChannel(cfg, dl, next)
}
