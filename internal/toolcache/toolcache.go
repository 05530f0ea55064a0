// Package toolcache memoizes tool results for tools that declare themselves
// cacheable. Keys are derived from a canonical fingerprint of the arguments,
// so argument maps hash the same regardless of insertion order.
package toolcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/featherdev/feather/internal/stablejson"
)

// Entry is one memoized tool result.
type Entry struct {
	Result    any
	CreatedAt time.Time
}

// Key fingerprints a tool invocation. ok is false when the arguments have
// no stable representation (functions, cycles, non-finite numbers); such
// calls simply bypass the cache.
func Key(tool string, args any) (key string, ok bool) {
	canonical, err := stablejson.Marshal(args)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256([]byte(canonical))
	return tool + ":" + hex.EncodeToString(sum[:]), true
}

// Cache is a process-local TTL cache for tool results. Expiry is lazy:
// stale entries are dropped on read.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	entry     Entry
	expiresAt time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get returns the live entry for key, if any. Results come back as deep
// clones so callers can never mutate the cached record.
func (c *Cache) Get(_ context.Context, key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return Entry{}, false
	}
	clone, ok := cloneResult(e.entry.Result)
	if !ok {
		delete(c.entries, key)
		return Entry{}, false
	}
	return Entry{Result: clone, CreatedAt: e.entry.CreatedAt}, true
}

// Set stores a deep clone of result under key for ttl. Non-positive TTLs
// are ignored; a tool that does not declare a TTL is not cacheable. Results
// without a JSON representation are silently not cached.
func (c *Cache) Set(_ context.Context, key string, result any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	clone, ok := cloneResult(result)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		entry:     Entry{Result: clone, CreatedAt: time.Now()},
		expiresAt: time.Now().Add(ttl),
	}
}

// cloneResult deep-clones via a JSON round trip, isolating the cache from
// both the tool that produced the value and every reader that receives it.
func cloneResult(v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
