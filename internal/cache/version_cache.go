// Package cache keeps recently fetched model version payloads in memory.
package cache

import (
	"bytes"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a cached payload stays valid without being read.
	DefaultTTL = 30 * time.Minute

	// CleanupInterval controls how often stale entries are purged.
	CleanupInterval = 5 * time.Minute
)

type entry struct {
	payload   []byte
	timestamp time.Time
}

// VersionCache is a TTL cache keyed by model version id. Reads refresh the TTL.
// The zero value is not usable; call NewVersionCache.
type VersionCache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]entry

	cleanupOnce sync.Once
	stop        chan struct{}
	now         func() time.Time
}

// NewVersionCache returns an empty cache. A non-positive ttl selects DefaultTTL.
func NewVersionCache(ttl time.Duration) *VersionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &VersionCache{
		ttl:     ttl,
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
}

// Put stores a payload. Empty ids and payloads are ignored.
func (c *VersionCache) Put(id string, payload []byte) {
	if c == nil || id == "" || len(payload) == 0 {
		return
	}
	c.cleanupOnce.Do(c.startCleanup)

	buf := make([]byte, len(payload))
	copy(buf, payload)

	c.mu.Lock()
	c.entries[id] = entry{payload: buf, timestamp: c.now()}
	c.mu.Unlock()
}

// Get returns a copy of the cached payload for id, or false when it is missing or expired.
func (c *VersionCache) Get(id string) ([]byte, bool) {
	if c == nil || id == "" {
		return nil, false
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if now.Sub(e.timestamp) > c.ttl {
		delete(c.entries, id)
		return nil, false
	}
	// Sliding expiration.
	e.timestamp = now
	c.entries[id] = e
	return bytes.Clone(e.payload), true
}

// Delete drops id, or every entry when id is empty.
func (c *VersionCache) Delete(id string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		c.entries = make(map[string]entry)
		return
	}
	delete(c.entries, id)
}

// Len reports the number of entries, expired ones included until purged.
func (c *VersionCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background cleanup goroutine.
func (c *VersionCache) Close() {
	if c == nil {
		return
	}
	c.cleanupOnce.Do(func() {})
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func (c *VersionCache) startCleanup() {
	go func() {
		ticker := time.NewTicker(CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.purgeExpired()
			}
		}
	}()
}

func (c *VersionCache) purgeExpired() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.Sub(e.timestamp) > c.ttl {
			delete(c.entries, k)
		}
	}
}
