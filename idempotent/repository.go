package idempotent

import "context"

// Repository records the keys of processed messages.
// Implementations serialize operations on the same key.
type Repository interface {
	// Add records key and reports whether it was absent.
	Add(ctx context.Context, key string) (bool, error)
	// Contains reports whether key is recorded.
	Contains(ctx context.Context, key string) (bool, error)
	// Remove deletes key and reports whether it was present.
	Remove(ctx context.Context, key string) (bool, error)
	// Confirm marks key as successfully processed and reports whether it was present.
	Confirm(ctx context.Context, key string) (bool, error)
}
