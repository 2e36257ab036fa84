package correlation

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MaxCachedValues is the largest number of values a key may have and still be
// served from a Cache. Larger keys are always constructed afresh.
const MaxCachedValues = 3

// DefaultCacheCapacity is the default number of keys held by a Cache.
const DefaultCacheCapacity = 1024

// Cache is a bounded, least-recently-used cache of primary keys, indexed by
// their canonical content.
//
// It is safe for concurrent use. A nil cache never caches.
type Cache struct {
	// Capacity is the maximum number of keys held in the cache. If it is
	// non-positive, DefaultCacheCapacity is used.
	Capacity int

	m    sync.Mutex
	keys *lru.Cache[string, *Key]
}

// GetOrCreate returns the cached primary key with the given scope and values,
// constructing and caching it if necessary.
//
// If there are more than MaxCachedValues values the cache is bypassed.
func (c *Cache) GetOrCreate(scope string, values map[string]string) *Key {
	if c == nil || len(values) > MaxCachedValues {
		return NewKey(scope, values)
	}

	pairs := sortedPairs(values)
	id := canonical(scope, pairs)

	c.m.Lock()
	defer c.m.Unlock()

	keys := c.init()

	if k, ok := keys.Get(id); ok {
		return k
	}

	k := &Key{
		scope:     scope,
		pairs:     pairs,
		canonical: id,
	}
	k.hash = k.computeHash()

	keys.Add(id, k)

	return k
}

// Lookup returns the cached key with the given scope and values, if present.
func (c *Cache) Lookup(scope string, values map[string]string) (*Key, bool) {
	if c == nil || len(values) > MaxCachedValues {
		return nil, false
	}

	id := canonical(scope, sortedPairs(values))

	c.m.Lock()
	defer c.m.Unlock()

	return c.init().Get(id)
}

// Len returns the number of keys in the cache.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}

	c.m.Lock()
	defer c.m.Unlock()

	if c.keys == nil {
		return 0
	}

	return c.keys.Len()
}

// init initializes the underlying LRU cache on first use. c.m must be held.
func (c *Cache) init() *lru.Cache[string, *Key] {
	if c.keys == nil {
		n := c.Capacity
		if n <= 0 {
			n = DefaultCacheCapacity
		}

		// lru.New() only fails on a non-positive size.
		c.keys, _ = lru.New[string, *Key](n)
	}

	return c.keys
}
