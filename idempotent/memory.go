package idempotent

import (
	"context"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultMemoryCacheSize is the capacity of a MemoryRepository created with size 0.
const DefaultMemoryCacheSize = 1000

// MemoryRepository keeps keys in a bounded in-memory LRU cache.
// When the cache is full the least recently used key is evicted, after which
// a message with that key is no longer detected as duplicate.
type MemoryRepository struct {
	mu    sync.Mutex
	cache *simplelru.LRU[string, bool]
}

// NewMemoryRepository creates a repository holding at most size keys.
func NewMemoryRepository(size int) *MemoryRepository {
	if size <= 0 {
		size = DefaultMemoryCacheSize
	}
	// only fails for a non-positive size
	cache, _ := simplelru.NewLRU[string, bool](size, nil)
	return &MemoryRepository{cache: cache}
}

// Add implements Repository.
func (r *MemoryRepository) Add(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache.Contains(key) {
		// refresh recency
		r.cache.Get(key)
		return false, nil
	}
	r.cache.Add(key, false)
	return true, nil
}

// Contains implements Repository.
func (r *MemoryRepository) Contains(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Contains(key), nil
}

// Remove implements Repository.
func (r *MemoryRepository) Remove(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Remove(key), nil
}

// Confirm implements Repository.
func (r *MemoryRepository) Confirm(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.cache.Contains(key) {
		return false, nil
	}
	r.cache.Add(key, true)
	return true, nil
}

// Len returns the number of stored keys.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}
