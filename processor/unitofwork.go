package processor

import (
	"context"

	"github.com/fxsml/goroute/exchange"
)

// UnitOfWork completes the exchange's Unit of Work after p finished, if this
// invocation is the first to claim it. Nested routes that receive a claimed
// exchange leave completion to the outermost route.
func UnitOfWork(p Processor) Processor {
	return AsyncFunc(func(ctx context.Context, ex *exchange.Exchange, done DoneFunc) bool {
		owner := ex.UnitOfWork().Begin()
		return Invoke(ctx, p, ex, func(doneSync bool) {
			if owner {
				ex.UnitOfWork().Done(ex)
			}
			done(doneSync)
		})
	})
}
