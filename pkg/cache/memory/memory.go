// Package memory implements the Cacher interface in process memory for
// deployments without a Memcached cluster.
package memory

import (
	"sync"
	"time"
)

type item struct {
	value     []byte
	expiresAt time.Time
}

type cache struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items map[string]item
}

// New creates a Cacher whose entries expire after ttl.
func New(ttl time.Duration) *cache {
	return &cache{
		ttl:   ttl,
		now:   time.Now,
		items: map[string]item{},
	}
}

func (c *cache) Get(key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(i.expiresAt) {
		delete(c.items, key)
		return nil, false, nil
	}

	return i.value, true, nil
}

func (c *cache) Set(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Expired entries are swept on write so the map cannot grow without
	// bound under a stream of distinct tokens.
	now := c.now()
	for k, i := range c.items {
		if !now.Before(i.expiresAt) {
			delete(c.items, k)
		}
	}

	c.items[key] = item{value: value, expiresAt: now.Add(c.ttl)}
	return nil
}
