package processor

import (
	"context"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/expr"
)

// When is a guarded branch of a Choice.
type When struct {
	Predicate expr.Predicate
	Processor Processor
}

type choice struct {
	whens     []When
	otherwise Processor
}

// Choice runs the processor of the first When whose predicate matches, or
// otherwise when none matches. A nil otherwise passes the exchange through.
// A predicate error is recorded on the exchange.
func Choice(whens []When, otherwise Processor) Processor {
	return &choice{whens: whens, otherwise: otherwise}
}

func (c *choice) Process(ctx context.Context, ex *exchange.Exchange, done DoneFunc) bool {
	for _, w := range c.whens {
		ok, err := w.Predicate(ex)
		if err != nil {
			ex.SetErr(err)
			done(true)
			return true
		}
		if ok {
			return Invoke(ctx, w.Processor, ex, done)
		}
	}
	if c.otherwise != nil {
		return Invoke(ctx, c.otherwise, ex, done)
	}
	done(true)
	return true
}

type filter struct {
	predicate expr.Predicate
	next      Processor
}

// Filter runs next only when predicate matches. The outcome is stored in the
// filter-matched property.
func Filter(predicate expr.Predicate, next Processor) Processor {
	return &filter{predicate: predicate, next: next}
}

func (f *filter) Process(ctx context.Context, ex *exchange.Exchange, done DoneFunc) bool {
	ok, err := f.predicate(ex)
	if err != nil {
		ex.SetErr(err)
	}
	ex.SetProperty(exchange.PropertyFilterMatched, ok)
	if !ok || err != nil {
		done(true)
		return true
	}
	return Invoke(ctx, f.next, ex, done)
}
