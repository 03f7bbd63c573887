// Package idempotent filters duplicate messages.
//
// A [Consumer] evaluates a key expression for each exchange and consults a
// [Repository]. The key is settled when the exchange's Unit of Work
// completes: confirmed on success, removed on failure, so a failed message
// can be redelivered and processed again. Repositories are provided for
// memory (bounded LRU), Redis and SQL databases.
package idempotent
