package cacheutil

import (
	"sync"
	"time"
)

// CachedValue is a cached value with the time it was fetched.
type CachedValue[T any] struct {
	Value     T
	FetchedAt time.Time
}

// ReadThrough returns the cached value when checkCache accepts it, otherwise
// takes the write lock, re-checks, and calls fetchAndCache. checkCache runs
// under the read lock; fetchAndCache runs under the write lock.
func ReadThrough[T any](
	mu *sync.RWMutex,
	checkCache func(now time.Time) (T, bool),
	fetchAndCache func(now time.Time) (T, error),
) (T, error) {
	now := time.Now()
	mu.RLock()
	if value, ok := checkCache(now); ok {
		mu.RUnlock()
		return value, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Another goroutine may have filled the cache between RUnlock and Lock.
	nowAfterLock := time.Now()
	if value, ok := checkCache(nowAfterLock); ok {
		return value, nil
	}
	return fetchAndCache(nowAfterLock)
}
