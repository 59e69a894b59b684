package expr

import (
	"sync"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// Cache holds compiled expressions keyed by the canonical hash of their
// source, so each distinct condition is parsed once per process.
//
// Thread-safety: Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Expression
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Expression)}
}

// Get returns the compiled form of raw, compiling it on first use.
// Compile errors are not cached.
func (c *Cache) Get(raw []byte) (*Expression, error) {
	if ir.Condition(raw).IsZero() {
		return Compile(nil)
	}
	key, err := ir.ConditionHash(raw)
	if err != nil {
		// Not valid JSON; Compile reports the precise error.
		return Compile(raw)
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}

	e, err = Compile(raw)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return e, nil
}

// Len returns the number of cached expressions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
