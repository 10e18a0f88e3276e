package reader

import (
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// Entry is a last-known-good read.
type Entry struct {
	Value      any
	ObservedAt time.Time
}

// Cache holds the last successful value per query key. Entries are
// overwritten on every success and never expire. Big integers and log
// slices are copied in and out, so callers may mutate what they get.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Put stores value under key.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{Value: clone(value), ObservedAt: c.now()}
}

// Get returns the entry for key.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	e.Value = clone(e.Value)
	return e, ok
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

func clone(v any) any {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return x
		}
		return new(big.Int).Set(x)
	case []types.Log:
		return slices.Clone(x)
	}
	return v
}
