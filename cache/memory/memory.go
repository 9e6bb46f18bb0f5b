// Package memory implements cache.Cache as a bounded in-process LRU.
package memory

import (
	"errors"
	"slices"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opencontainers/go-digest"
)

// DefaultEntries is the entry limit used when New is given n <= 0.
const DefaultEntries = 1024

// Cache keeps the most recently used containers in memory.
// The cache is safe for concurrent use.
type Cache struct {
	entries *lru.Cache[digest.Digest, []byte]
	bytes   atomic.Int64
}

// New creates a cache holding at most n containers.
func New(n int) (*Cache, error) {
	if n <= 0 {
		n = DefaultEntries
	}
	c := &Cache{}
	entries, err := lru.NewWithEvict(n, func(_ digest.Digest, raw []byte) {
		c.bytes.Add(-int64(len(raw)))
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// Get returns a copy of the cached container for key.
func (c *Cache) Get(key digest.Digest) ([]byte, bool) {
	raw, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	return slices.Clone(raw), true
}

// Put stores raw under key. The cache keeps its own copy.
func (c *Cache) Put(key digest.Digest, raw []byte) error {
	if err := key.Validate(); err != nil {
		return errors.Join(errors.New("memory cache: invalid key"), err)
	}
	if found, _ := c.entries.ContainsOrAdd(key, append([]byte(nil), raw...)); !found {
		c.bytes.Add(int64(len(raw)))
	}
	return nil
}

// Delete removes the container for key.
func (c *Cache) Delete(key digest.Digest) error {
	c.entries.Remove(key)
	return nil
}

// Len returns the number of cached containers.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// SizeBytes returns the total size of cached containers.
func (c *Cache) SizeBytes() int64 {
	return c.bytes.Load()
}
