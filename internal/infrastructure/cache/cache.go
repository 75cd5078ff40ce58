// Package cache provides an in-process byte cache backed by ristretto.
//
// Values are stored as encoded bytes and cost their length, so MaxCost is a
// memory bound in bytes. Writes are applied asynchronously; call Wait when a
// following Get must observe them.
package cache

import (
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// ErrInvalidMaxCost is returned when the cache is configured without a budget.
var ErrInvalidMaxCost = errors.New("cache: max cost must be positive")

const (
	// avgEntrySize estimates a cached document's size for counter sizing.
	avgEntrySize = 100
	minCounters  = 1000
	bufferItems  = 64
)

// Cache is a bounded TTL cache of byte values keyed by string.
type Cache struct {
	c   *ristretto.Cache[string, []byte]
	ttl time.Duration
}

// New creates a cache holding at most maxCost bytes. Entries expire after ttl;
// a zero ttl keeps them until evicted.
func New(maxCost int64, ttl time.Duration) (*Cache, error) {
	if maxCost <= 0 {
		return nil, ErrInvalidMaxCost
	}

	// ristretto recommends ~10x counters per expected item.
	counters := max(maxCost/avgEntrySize*10, minCounters)

	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        counters,
		MaxCost:            maxCost,
		BufferItems:        bufferItems,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, ttl: ttl}, nil
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) ([]byte, bool) {
	return c.c.Get(key)
}

// Set stores value under key with the cache's TTL. It reports false when
// the write was dropped by the admission policy.
func (c *Cache) Set(key string, value []byte) bool {
	return c.c.SetWithTTL(key, value, int64(len(value)), c.ttl)
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.c.Del(key)
}

// Wait blocks until pending writes are applied.
func (c *Cache) Wait() {
	c.c.Wait()
}

// TTL returns the entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
