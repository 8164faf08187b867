// Package refresh is an in-memory cache that serves a stale value while it
// recomputes it in the background.
//
// An entry is fresh until its soft deadline. Between the soft and the hard
// deadline reads return the cached value and trigger one background refresh.
// After the hard deadline the entry is dropped and the next read recomputes
// it synchronously. Concurrent computations for a key are shared.
package refresh

import (
	"sync"
	"time"

	"watchcache/internal/logging"

	"golang.org/x/sync/singleflight"
)

const DefaultHardTTL = 16 * time.Minute

type Options struct {
	HardTTL time.Duration
	// SoftTTL defaults to half of HardTTL.
	SoftTTL time.Duration
	Now     func() time.Time
	Logger  *logging.Logger
}

type item[T any] struct {
	value      T
	softAt     time.Time
	hardAt     time.Time
	refreshing bool
}

type Cache[T any] struct {
	hardTTL time.Duration
	softTTL time.Duration
	now     func() time.Time
	logger  *logging.Logger

	mutex       sync.Mutex
	items       map[string]*item[T]
	generations map[string]uint64
	group       singleflight.Group
	background sync.WaitGroup
}

func New[T any](options Options) *Cache[T] {
	hardTTL := options.HardTTL
	if hardTTL <= 0 {
		hardTTL = DefaultHardTTL
	}
	softTTL := options.SoftTTL
	if softTTL <= 0 || softTTL > hardTTL {
		softTTL = hardTTL / 2
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Cache[T]{
		hardTTL:     hardTTL,
		softTTL:     softTTL,
		now:         now,
		logger:      logger,
		items:       make(map[string]*item[T]),
		generations: make(map[string]uint64),
	}
}

// GetOrCreate returns the cached value for key, calling create when the key
// is missing or expired.
func (c *Cache[T]) GetOrCreate(key string, create func() (T, error)) (T, error) {
	now := c.now()

	c.mutex.Lock()
	if cached, ok := c.items[key]; ok {
		if now.Before(cached.hardAt) {
			value := cached.value
			if !now.Before(cached.softAt) && !cached.refreshing {
				cached.refreshing = true
				c.background.Add(1)
				go c.refresh(key, create)
			}
			c.mutex.Unlock()
			return value, nil
		}
		delete(c.items, key)
	}
	c.mutex.Unlock()

	return c.compute(key, create)
}

func (c *Cache[T]) compute(key string, create func() (T, error)) (T, error) {
	result, err, _ := c.group.Do(key, func() (any, error) {
		c.mutex.Lock()
		generation := c.generations[key]
		c.mutex.Unlock()

		value, err := create()
		if err != nil {
			return nil, err
		}
		c.store(key, generation, value)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	value, _ := result.(T)
	return value, nil
}

func (c *Cache[T]) refresh(key string, create func() (T, error)) {
	defer c.background.Done()
	if _, err := c.compute(key, create); err != nil {
		c.logger.Warn("refresh failed", map[string]string{
			"key":   key,
			"error": err.Error(),
		})
		c.mutex.Lock()
		if cached, ok := c.items[key]; ok {
			cached.refreshing = false
		}
		c.mutex.Unlock()
	}
}

// store keeps value unless key was invalidated after its computation began.
func (c *Cache[T]) store(key string, generation uint64, value T) {
	now := c.now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.generations[key] != generation {
		return
	}
	c.items[key] = &item[T]{
		value:  value,
		softAt: now.Add(c.softTTL),
		hardAt: now.Add(c.hardTTL),
	}
}

// Invalidate drops key. A computation already running for key still returns
// its value to its callers but does not cache it.
func (c *Cache[T]) Invalidate(key string) {
	c.mutex.Lock()
	delete(c.items, key)
	c.generations[key]++
	c.mutex.Unlock()
	c.group.Forget(key)
}

func (c *Cache[T]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.items)
}
