// Package memcached implements the Cacher interface on top of a
// Memcached cluster.
package memcached

import (
	"crypto/sha256"
	"fmt"

	"github.com/bradfitz/gomemcache/memcache"

	dcache "github.com/dominusproject/dominus-status/pkg/cache"
)

type cache struct {
	*memcache.Client
	expiration int32
}

// New creates a Cacher from a list of Memcached servers and a key
// expiration time given in seconds.
func New(expiration int32, servers ...string) dcache.Cacher {
	return &cache{
		memcache.New(servers...),
		expiration,
	}
}

// Get returns a value from Memcached.
func (c *cache) Get(key string) ([]byte, bool, error) {
	i, err := c.Client.Get(hash(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, false, nil
		}
		return nil, false, err
	}

	return i.Value, true, nil
}

// Set sets a value in Memcached.
func (c *cache) Set(key string, value []byte) error {
	i := memcache.Item{
		Key:        hash(key),
		Value:      value,
		Expiration: c.expiration,
	}
	return c.Client.Set(&i)
}

// hash shortens keys to fit Memcached's 250 byte key limit.
func hash(key string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
}
