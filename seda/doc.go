// Package seda implements staged event-driven routing over in-memory queues.
//
// A producer enqueues a copy of each exchange and, for request-reply
// exchanges, completes once the consumer finished it. A consumer runs a fixed
// number of workers from a pool.Pool, each polling the queue and processing
// one exchange at a time.
//
// Stopping a consumer moves it from Running through ShuttingDown to Stopped.
// With CompleteCurrentTaskOnly, queued exchanges fail with a ShutdownForced
// error while running ones finish; with CompleteAllTasks the queue is drained
// first. Either way the shutdown is bounded by the shutdown timeout, after
// which remaining exchanges are failed.
//
// Endpoint URI options: size, concurrentConsumers, blockWhenFull,
// waitForTaskToComplete (Never, IfReplyExpected, Always), timeout,
// shutdownTimeout, shutdownRunningTask (CompleteCurrentTaskOnly,
// CompleteAllTasks) and pollTimeout.
package seda
