package route

import (
	"context"
	"fmt"
	"time"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/expr"
	"github.com/fxsml/goroute/idempotent"
	"github.com/fxsml/goroute/processor"
)

// Step is one element of a route definition. Steps are resolved against the
// Context when the route is added.
type Step func(b *builder) (processor.Processor, error)

// Pipeline groups steps into one step, for example a multicast branch.
func Pipeline(steps ...Step) Step {
	return func(b *builder) (processor.Processor, error) {
		return b.pipeline(steps)
	}
}

// To sends the exchange to the endpoint at uri.
func To(uri string) Step {
	return func(b *builder) (processor.Processor, error) {
		return b.producer(uri)
	}
}

// Process runs p.
func Process(p processor.Processor) Step {
	return func(*builder) (processor.Processor, error) {
		if p == nil {
			return nil, exchange.Configuration(fmt.Errorf("%w: nil processor", ErrInvalidRoute))
		}
		return p, nil
	}
}

// ProcessFunc runs fn. An error returned by fn is recorded on the exchange.
func ProcessFunc(fn func(ctx context.Context, ex *exchange.Exchange) error) Step {
	return Process(processor.Func(fn))
}

// Bean invokes a method of v, resolved from the body type when method is empty.
func Bean(v any, method string) Step {
	return func(*builder) (processor.Processor, error) {
		return processor.Bean(v, method)
	}
}

// Filter runs steps only for exchanges matching predicate.
func Filter(predicate expr.Predicate, steps ...Step) Step {
	return func(b *builder) (processor.Processor, error) {
		next, err := b.pipeline(steps)
		if err != nil {
			return nil, err
		}
		return processor.Filter(predicate, next), nil
	}
}

// Clause is a branch of Choice.
type Clause struct {
	predicate expr.Predicate
	steps     []Step
}

// When is a Choice branch taken when predicate matches.
func When(predicate expr.Predicate, steps ...Step) Clause {
	return Clause{predicate: predicate, steps: steps}
}

// Otherwise is the Choice branch taken when no When matched.
func Otherwise(steps ...Step) Clause {
	return Clause{steps: steps}
}

// Choice runs the steps of the first matching clause.
func Choice(clauses ...Clause) Step {
	return func(b *builder) (processor.Processor, error) {
		var (
			whens     []processor.When
			otherwise processor.Processor
		)
		for i, c := range clauses {
			p, err := b.pipeline(c.steps)
			if err != nil {
				return nil, err
			}
			if c.predicate == nil {
				if otherwise != nil || i != len(clauses)-1 {
					return nil, exchange.Configuration(fmt.Errorf("%w: otherwise must be the last choice clause", ErrInvalidRoute))
				}
				otherwise = p
				continue
			}
			whens = append(whens, processor.When{Predicate: c.predicate, Processor: p})
		}
		return processor.Choice(whens, otherwise), nil
	}
}

// Idempotent runs steps once per key evaluated by key.
func Idempotent(repo idempotent.Repository, key expr.Expression, opts []idempotent.Option, steps ...Step) Step {
	return func(b *builder) (processor.Processor, error) {
		next, err := b.pipeline(steps)
		if err != nil {
			return nil, err
		}
		opts := append([]idempotent.Option{idempotent.WithLogger(b.ctx.cfg.Logger)}, opts...)
		return idempotent.NewConsumer(repo, key, next, opts...)
	}
}

// Multicast sends a copy of the exchange to every branch.
func Multicast(cfg processor.MulticastConfig, branches ...Step) Step {
	return func(b *builder) (processor.Processor, error) {
		ps := make([]processor.Processor, len(branches))
		for i, branch := range branches {
			p, err := branch(b)
			if err != nil {
				return nil, err
			}
			ps[i] = p
		}
		return processor.Multicast(cfg, ps...), nil
	}
}

// SetHeader sets an In header.
func SetHeader(name string, e expr.Expression) Step {
	return Process(processor.SetHeader(name, e))
}

// RemoveHeader removes an In header.
func RemoveHeader(name string) Step {
	return Process(processor.RemoveHeader(name))
}

// SetBody replaces the body.
func SetBody(e expr.Expression) Step {
	return Process(processor.SetBody(e))
}

// SetProperty sets an exchange property.
func SetProperty(name string, e expr.Expression) Step {
	return Process(processor.SetProperty(name, e))
}

// Transform replaces the body with the result of fn.
func Transform(fn func(ctx context.Context, ex *exchange.Exchange) (any, error)) Step {
	return Process(processor.Transform(fn))
}

// Log logs the exchange. The route id is added to the record and the
// context's logger is used unless cfg sets one.
func Log(cfg processor.LogConfig) Step {
	return func(b *builder) (processor.Processor, error) {
		if cfg.Logger == nil {
			cfg.Logger = b.ctx.cfg.Logger
		}
		cfg.Args = append([]any{"route", b.route}, cfg.Args...)
		return processor.Log(cfg), nil
	}
}

// Stop ends routing of the exchange without an error.
func Stop() Step {
	return Process(processor.Stop())
}

// Throttle limits the rate and concurrency of exchanges entering steps.
func Throttle(cfg processor.ThrottleConfig, steps ...Step) Step {
	return func(b *builder) (processor.Processor, error) {
		next, err := b.pipeline(steps)
		if err != nil {
			return nil, err
		}
		return processor.Throttle(cfg, b.ctx.manager.Scheduler(), next), nil
	}
}

// Delay continues after d without blocking a worker.
func Delay(d time.Duration) Step {
	return func(b *builder) (processor.Processor, error) {
		return processor.Delay(d, b.ctx.manager.Scheduler()), nil
	}
}
