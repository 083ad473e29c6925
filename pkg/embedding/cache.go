// Package embedding obtains and caches vector embeddings for text.
package embedding

import (
	"strings"
	"sync"
	"time"
)

// DefaultCacheSize is the entry bound applied when no explicit capacity is
// given.
const DefaultCacheSize = 100

// entry is a single cached embedding keyed by normalized text.
type entry struct {
	normalizedText string
	embedding      []float32
	timestamp      time.Time
}

// Cache is a bounded mapping from normalized text to a previously computed
// vector. Eviction is insertion-ordered: once the capacity is exceeded the
// oldest-inserted entry is removed first. This is not a true access-order
// LRU; the original system behaves the same way and callers rely on the
// simpler hit-rate characteristics.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*entry
	order    []string
}

// NewCache creates a cache bounded to capacity entries. A capacity <= 0
// selects DefaultCacheSize.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*entry, capacity),
	}
}

// Normalize canonicalizes text for cache keying so identical queries share
// entries regardless of whitespace and case.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Get returns the cached vector for the normalized text, if present.
func (c *Cache) Get(normalizedText string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[normalizedText]
	if !ok {
		return nil, false
	}
	return e.embedding, true
}

// Put stores a vector under the normalized text. If the cache is at capacity
// the single oldest-inserted entry is evicted before inserting. Re-putting an
// existing key replaces the vector without changing its insertion position.
func (c *Cache) Put(normalizedText string, embedding []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[normalizedText]; ok {
		e.embedding = embedding
		e.timestamp = time.Now()
		return
	}

	if len(c.entries) >= c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[normalizedText] = &entry{
		normalizedText: normalizedText,
		embedding:      embedding,
		timestamp:      time.Now(),
	}
	c.order = append(c.order, normalizedText)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
