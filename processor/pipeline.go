package processor

import (
	"context"

	"github.com/fxsml/goroute/exchange"
)

type pipeline struct {
	steps []Processor
}

// Pipeline runs steps in order. An exception, a handled failure or the
// route-stop property ends the pipeline early. An Out message left by a step
// becomes the In message of the next.
//
// Steps that complete synchronously run in a loop on the calling goroutine;
// the continuation of an asynchronous step resumes the loop on the goroutine
// that completed it.
func Pipeline(steps ...Processor) Processor {
	if len(steps) == 1 {
		return steps[0]
	}
	return &pipeline{steps: steps}
}

func (p *pipeline) Process(ctx context.Context, ex *exchange.Exchange, done DoneFunc) bool {
	return p.run(ctx, ex, 0, done)
}

func (p *pipeline) run(ctx context.Context, ex *exchange.Exchange, i int, done DoneFunc) bool {
	for ; i < len(p.steps); i++ {
		if i > 0 {
			promote(ex)
		}
		if !continueProcessing(ex) {
			break
		}
		if err := ctx.Err(); err != nil {
			ex.SetErr(exchange.ShutdownForced(err))
			break
		}

		next := i + 1
		completed := Invoke(ctx, p.steps[i], ex, func(doneSync bool) {
			if doneSync {
				return
			}
			p.run(ctx, ex, next, func(bool) { done(false) })
		})
		if !completed {
			return false
		}
	}
	done(true)
	return true
}

func promote(ex *exchange.Exchange) {
	if ex.HasOut() {
		ex.SetIn(ex.Out())
		ex.SetOut(nil)
	}
}
