// Package exchange provides the in-flight message model of the routing engine.
//
// An [Exchange] is one unit of work travelling through a route. It carries an
// In [Message] (the request), an optional Out message (the reply), routing
// properties, at most one recorded exception and a failure-handled flag that an
// error handler sets once it has disposed of a failure.
//
// Every exchange owns a [UnitOfWork]. Components that must react to the final
// outcome, such as the idempotent consumer or a broker consumer that acks
// messages, register a [Synchronization]. The Unit of Work fires exactly one of
// OnComplete or OnFailure per synchronization, once:
//
//	ex := exchange.New(exchange.InOnly, exchange.NewMessage("hello", nil))
//	ex.AddSynchronization(exchange.SynchronizationFuncs{
//		Complete: func(ex *exchange.Exchange) { ack() },
//		Failure:  func(ex *exchange.Exchange) { nack(ex.Err()) },
//	})
//
// Failures are classified with [ErrorKind]: wrap errors with [Transient],
// [Permanent], [Configuration] or [ShutdownForced] and inspect them with
// [KindOf] or errors.Is against the matching sentinel.
package exchange
