package processor

import (
	"context"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/expr"
)

// SetHeader sets the named In header to the value of e.
func SetHeader(name string, e expr.Expression) Processor {
	return Func(func(_ context.Context, ex *exchange.Exchange) error {
		v, err := e(ex)
		if err != nil {
			return err
		}
		ex.In().SetHeader(name, v)
		return nil
	})
}

// RemoveHeader removes the named In header.
func RemoveHeader(name string) Processor {
	return Func(func(_ context.Context, ex *exchange.Exchange) error {
		ex.In().RemoveHeader(name)
		return nil
	})
}

// SetBody replaces the In body with the value of e.
func SetBody(e expr.Expression) Processor {
	return Func(func(_ context.Context, ex *exchange.Exchange) error {
		v, err := e(ex)
		if err != nil {
			return err
		}
		ex.In().SetBody(v)
		return nil
	})
}

// SetProperty sets the named exchange property to the value of e.
func SetProperty(name string, e expr.Expression) Processor {
	return Func(func(_ context.Context, ex *exchange.Exchange) error {
		v, err := e(ex)
		if err != nil {
			return err
		}
		ex.SetProperty(name, v)
		return nil
	})
}

// Stop ends routing of the exchange. Remaining pipeline steps are skipped and
// the exchange completes successfully.
func Stop() Processor {
	return Func(func(_ context.Context, ex *exchange.Exchange) error {
		ex.SetProperty(exchange.PropertyRouteStop, true)
		return nil
	})
}

// Transform sets the result of fn as the Out message body for InOut
// exchanges, copying the In headers, or as the In body otherwise.
func Transform(fn func(ctx context.Context, ex *exchange.Exchange) (any, error)) Processor {
	return Func(func(ctx context.Context, ex *exchange.Exchange) error {
		v, err := fn(ctx, ex)
		if err != nil {
			return err
		}
		setResult(ex, v)
		return nil
	})
}

func setResult(ex *exchange.Exchange, v any) {
	if ex.Pattern() == exchange.InOut {
		out := ex.In().Copy()
		out.SetBody(v)
		ex.SetOut(out)
		return
	}
	ex.In().SetBody(v)
}
