// Package errorhandler supervises route failures with redelivery and
// dead-lettering.
//
// The handler wraps a processor graph. When the graph completes with an
// exception, the [RedeliveryPolicy] decides whether the exchange is
// redelivered and after which delay. Redeliveries are scheduled on the
// shared scheduler, so a worker is never blocked while waiting. Exhausted
// exchanges go to the dead letter processor and complete as handled:
//
//	h, err := errorhandler.DeadLetterChannel(errorhandler.Config{
//		Policy: errorhandler.RedeliveryPolicy{
//			MaximumRedeliveries: 3,
//			RedeliveryDelay:     100 * time.Millisecond,
//			BackOffMultiplier:   2,
//		},
//		Scheduler: manager.Scheduler(),
//	}, deadLetter, route)
package errorhandler
