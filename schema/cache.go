package schema

import (
	"context"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"
)

// Key identifies a cached collection.
type Key struct {
	Tenant     string
	Namespace  string
	Collection string
}

func (k Key) String() string {
	return k.Tenant + "/" + k.Namespace + "/" + k.Collection
}

// Settings is the cached view of a collection's backing table.
type Settings struct {
	Exists             bool
	IsJSONAPI          bool // column shape matches the fixed collection shape
	VectorEnabled      bool
	VectorSize         int
	SimilarityFunction string
	Comment            string
}

// Matches compares the settings that define collection identity:
// (vector_enabled, vector_size, similarity_function, comment).
func (s Settings) Matches(other Settings) bool {
	return s.VectorEnabled == other.VectorEnabled &&
		s.VectorSize == other.VectorSize &&
		s.SimilarityFunction == other.SimilarityFunction &&
		s.Comment == other.Comment
}

// FetchFunc loads settings from store metadata on a cache miss.
type FetchFunc func(ctx context.Context, key Key) (Settings, error)

type entry struct {
	settings Settings
	storedAt time.Time
}

// Cache is a bounded LRU of collection settings with write-time expiry.
// Concurrent misses on the same key collapse to one fetch. Stale entries
// may be served; correctness is recovered by the CAS write protocol, so a
// stale view manifests as a failed write, never silent corruption.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache
	ttl     time.Duration
	group   singleflight.Group
	fetch   FetchFunc
}

// NewCache builds a cache bounded to maxSize entries with the given expiry.
func NewCache(maxSize int, ttl time.Duration, fetch FetchFunc) *Cache {
	return &Cache{
		entries: lru.New(maxSize),
		ttl:     ttl,
		fetch:   fetch,
	}
}

// Get returns the cached settings, fetching and populating atomically on a
// miss or an expired entry.
func (c *Cache) Get(ctx context.Context, key Key) (Settings, error) {
	c.mu.Lock()
	if v, ok := c.entries.Get(key); ok {
		e := v.(entry)
		if time.Since(e.storedAt) < c.ttl {
			c.mu.Unlock()
			return e.settings, nil
		}
		c.entries.Remove(key)
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		settings, err := c.fetch(ctx, key)
		if err != nil {
			return Settings{}, err
		}
		c.Put(key, settings)
		return settings, nil
	})
	if err != nil {
		return Settings{}, err
	}
	return v.(Settings), nil
}

// Put stores settings, stamping the write time for expiry.
func (c *Cache) Put(key Key, settings Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, entry{settings: settings, storedAt: time.Now()})
}

// Invalidate drops a key, forcing the next Get to fetch.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key)
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
