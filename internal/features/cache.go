package features

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Store is a persistent second tier for extraction results. Implementations
// must be safe for concurrent use.
type Store interface {
	// Load returns the stored features for key. A miss is (nil, false, nil).
	Load(key string) (*Features, bool, error)

	// Save records f under key, replacing any earlier value.
	Save(key string, f *Features) error
}

type cacheEntry struct {
	features *Features
	err      error
}

// Cache memoizes extraction results by key.
//
// Every key is computed at most once per Cache, no matter how many goroutines
// ask for it concurrently. Errors are remembered as well, so a failing
// extraction is not retried by the next pair that needs it.
//
// A Store, when configured, is consulted before computing and updated after.
// Store failures are logged and otherwise ignored: the store is an
// accelerator, never a source of truth.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]cacheEntry
	group    singleflight.Group
	store    Store
	logger   *slog.Logger
	computed atomic.Int64
}

// NewCache creates a cache. store may be nil.
func NewCache(store Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		store:   store,
		logger:  logger,
	}
}

// Get returns the features for key, calling compute only if neither memory
// nor the store holds them.
func (c *Cache) Get(key string, compute func() (*Features, error)) (*Features, error) {
	if e, ok := c.lookup(key); ok {
		return e.features, e.err
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if e, ok := c.lookup(key); ok {
			return e.features, e.err
		}

		f, err := c.fill(key, compute)

		c.mu.Lock()
		c.entries[key] = cacheEntry{features: f, err: err}
		c.mu.Unlock()

		return f, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*Features), nil
}

func (c *Cache) lookup(key string) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache) fill(key string, compute func() (*Features, error)) (*Features, error) {
	if c.store != nil {
		f, ok, err := c.store.Load(key)
		switch {
		case err != nil:
			c.logger.Warn("feature store read failed", "key", key, "error", err)
		case ok:
			return f, nil
		}
	}

	c.computed.Add(1)
	f, err := compute()
	if err != nil {
		return nil, err
	}

	if c.store != nil {
		if err := c.store.Save(key, f); err != nil {
			c.logger.Warn("feature store write failed", "key", key, "error", err)
		}
	}
	return f, nil
}

// Computations reports how many times a compute function has run.
func (c *Cache) Computations() int64 {
	return c.computed.Load()
}

// Len returns the number of keys held in memory, failures included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
