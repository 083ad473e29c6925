// Package cache provides a general-purpose, size and TTL bounded cache with
// tag-based lookup and a two-tier memory/persistent backing. The cache is
// fail-open: serialization and storage errors are logged and surface as a
// miss or no-op, never as an error to the caller.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/chatmem/chatmem/pkg/log"
)

// Entry is a single cached item. Entries are created on Set, replaced
// wholesale on re-set, and destroyed on Delete, TTL expiry or eviction.
type Entry struct {
	Key       string            `json:"key"`
	Data      json.RawMessage   `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
	ExpiresAt time.Time         `json:"expires_at"`
	Size      int64             `json:"size"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// hasTag reports whether the entry carries the tag.
func (e *Entry) hasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits         uint64         `json:"hits"`
	Misses       uint64         `json:"misses"`
	TotalEntries int            `json:"total_entries"`
	TotalSize    int64          `json:"total_size"`
	EntriesByTag map[string]int `json:"entries_by_tag"`
}

// Config holds the cache bounds.
type Config struct {
	// MaxSize is the total serialized size budget in bytes
	MaxSize int64

	// MaxEntries is the entry count the background sweep trims down to
	MaxEntries int

	// DefaultTTL is applied when Set is called without an explicit TTL
	DefaultTTL time.Duration

	// CleanupInterval is the period of the background sweep; <= 0
	// disables the sweep
	CleanupInterval time.Duration

	// Path is the bbolt file backing the persistent tier; empty disables
	// the persistent tier
	Path string
}

// DefaultConfig returns the default cache bounds.
func DefaultConfig() Config {
	return Config{
		MaxSize:         50 * 1024 * 1024,
		MaxEntries:      1000,
		DefaultTTL:      24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// SetOption configures a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl      time.Duration
	hasTTL   bool
	tags     []string
	metadata map[string]string
}

// WithTTL overrides the default TTL for this entry.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
		o.hasTTL = true
	}
}

// WithTags attaches tags for GetByTag lookup.
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) {
		o.tags = tags
	}
}

// WithMetadata attaches free-form metadata to the entry.
func WithMetadata(metadata map[string]string) SetOption {
	return func(o *setOptions) {
		o.metadata = metadata
	}
}

// Cache is the two-tier keyed store. It is an explicitly constructed service
// owned for the lifetime of the process and passed to dependents; there is no
// package-level singleton. All methods are safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	totalSize int64
	hits      uint64
	misses    uint64

	config     Config
	persistent *boltTier

	// clock is replaceable in tests to simulate TTL expiry
	clock func() time.Time

	sweepDone chan struct{}
	sweepOnce sync.Once
}

// New creates a cache with the given bounds. When cfg.Path is set the
// persistent tier is opened at that path; a persistent tier failure at open
// time is an error because it indicates a misconfiguration rather than a
// transient I/O problem.
func New(cfg Config) (*Cache, error) {
	defaults := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaults.MaxSize
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaults.MaxEntries
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaults.DefaultTTL
	}

	c := &Cache{
		entries:   make(map[string]*Entry),
		config:    cfg,
		clock:     time.Now,
		sweepDone: make(chan struct{}),
	}

	if cfg.Path != "" {
		tier, err := openBoltTier(cfg.Path)
		if err != nil {
			return nil, err
		}
		c.persistent = tier
	}

	if cfg.CleanupInterval > 0 {
		go c.sweepLoop(cfg.CleanupInterval)
	}

	return c, nil
}

// Close stops the background sweep and closes the persistent tier.
func (c *Cache) Close() error {
	c.sweepOnce.Do(func() { close(c.sweepDone) })
	if c.persistent != nil {
		return c.persistent.close()
	}
	return nil
}

// Set serializes the value and stores it under key, evicting
// soonest-to-expire entries first if the size budget would be exceeded.
// Serialization and persistent-tier failures are logged and swallowed.
func (c *Cache) Set(ctx context.Context, key string, value any, opts ...SetOption) {
	options := setOptions{ttl: c.config.DefaultTTL}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.hasTTL {
		options.ttl = c.config.DefaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		log.WarnContext(ctx, "Cache set skipped, value not serializable", "key", key, "error", err)
		return
	}

	now := c.clock()
	entry := &Entry{
		Key:       key,
		Data:      data,
		Timestamp: now,
		ExpiresAt: now.Add(options.ttl),
		Size:      int64(len(data)),
		Tags:      options.tags,
		Metadata:  options.metadata,
	}

	c.mu.Lock()
	c.ensureSpace(ctx, entry.Size)
	if old, ok := c.entries[key]; ok {
		c.totalSize -= old.Size
	}
	c.entries[key] = entry
	c.totalSize += entry.Size
	c.mu.Unlock()

	if c.persistent != nil {
		if err := c.persistent.put(entry); err != nil {
			log.WarnContext(ctx, "Persistent cache write failed", "key", key, "error", err)
		}
	}
}

// ensureSpace frees room for requiredSize bytes by deleting entries in
// ascending expiresAt order (soonest-to-expire first) until the budget fits.
// Eviction favors entries closest to natural expiry, not least-recently-used.
// Caller must hold c.mu.
func (c *Cache) ensureSpace(ctx context.Context, requiredSize int64) {
	if c.totalSize+requiredSize <= c.config.MaxSize {
		return
	}

	candidates := make([]*Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ExpiresAt.Before(candidates[j].ExpiresAt)
	})

	for _, entry := range candidates {
		if c.totalSize+requiredSize <= c.config.MaxSize {
			break
		}
		c.removeLocked(ctx, entry.Key)
	}
}

// Get looks the key up in the memory tier, then the persistent tier
// (promoting on hit), deserializing the entry into out. Expired entries are
// deleted and treated as a miss. The return value reports whether out was
// populated.
func (c *Cache) Get(ctx context.Context, key string, out any) bool {
	now := c.clock()

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		if entry.expired(now) {
			c.removeLocked(ctx, key)
			c.misses++
			c.mu.Unlock()
			return false
		}
		c.hits++
		c.mu.Unlock()
		return c.decode(ctx, entry, out)
	}
	c.mu.Unlock()

	if c.persistent == nil {
		c.miss()
		return false
	}

	entry, err := c.persistent.get(key)
	if err != nil {
		log.WarnContext(ctx, "Persistent cache read failed", "key", key, "error", err)
		c.miss()
		return false
	}
	if entry == nil {
		c.miss()
		return false
	}
	if entry.expired(now) {
		if err := c.persistent.delete(key); err != nil {
			log.WarnContext(ctx, "Persistent cache delete failed", "key", key, "error", err)
		}
		c.miss()
		return false
	}

	// Promote to the memory tier. Another goroutine may have written the
	// key while the persistent tier was read, so overwrite with the same
	// size accounting as Set.
	c.mu.Lock()
	c.ensureSpace(ctx, entry.Size)
	if old, ok := c.entries[key]; ok {
		c.totalSize -= old.Size
	}
	c.entries[key] = entry
	c.totalSize += entry.Size
	c.hits++
	c.mu.Unlock()

	return c.decode(ctx, entry, out)
}

// decode deserializes an entry into out, failing closed: a corrupt entry is
// deleted and reported as a miss.
func (c *Cache) decode(ctx context.Context, entry *Entry, out any) bool {
	if out == nil {
		return true
	}
	if err := json.Unmarshal(entry.Data, out); err != nil {
		log.WarnContext(ctx, "Discarding corrupt cache entry", "key", entry.Key, "error", err)
		c.Delete(ctx, entry.Key)
		return false
	}
	return true
}

func (c *Cache) miss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// Has reports whether a live entry exists for the key in either tier. It does
// not count toward hit/miss statistics.
func (c *Cache) Has(ctx context.Context, key string) bool {
	now := c.clock()

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return !entry.expired(now)
	}

	if c.persistent == nil {
		return false
	}
	entry, err := c.persistent.get(key)
	if err != nil || entry == nil {
		return false
	}
	return !entry.expired(now)
}

// Delete removes the entry from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	c.removeLocked(ctx, key)
	c.mu.Unlock()
}

// removeLocked removes an entry from both tiers. Caller must hold c.mu.
func (c *Cache) removeLocked(ctx context.Context, key string) {
	if entry, ok := c.entries[key]; ok {
		c.totalSize -= entry.Size
		delete(c.entries, key)
	}
	if c.persistent != nil {
		if err := c.persistent.delete(key); err != nil {
			log.WarnContext(ctx, "Persistent cache delete failed", "key", key, "error", err)
		}
	}
}

// Clear removes all entries from both tiers.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.totalSize = 0
	c.mu.Unlock()

	if c.persistent != nil {
		if err := c.persistent.clear(); err != nil {
			log.WarnContext(ctx, "Persistent cache clear failed", "error", err)
		}
	}
}

// GetByTag returns the live memory-tier entries carrying the tag.
func (c *Cache) GetByTag(ctx context.Context, tag string) []Entry {
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	var result []Entry
	for _, entry := range c.entries {
		if entry.expired(now) || !entry.hasTag(tag) {
			continue
		}
		result = append(result, *entry)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

// Stats returns current hit/miss counters, totals and the entries-by-tag
// histogram for the memory tier.
func (c *Cache) Stats() Stats {
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Hits:         c.hits,
		Misses:       c.misses,
		EntriesByTag: make(map[string]int),
	}
	for _, entry := range c.entries {
		if entry.expired(now) {
			continue
		}
		stats.TotalEntries++
		stats.TotalSize += entry.Size
		for _, tag := range entry.Tags {
			stats.EntriesByTag[tag]++
		}
	}
	return stats
}

// sweepLoop runs the periodic maintenance pass. Sweeps never block
// foreground calls beyond the container lock and complete in one pass.
func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.sweepDone:
			return
		case <-ticker.C:
			c.Sweep(context.Background())
		}
	}
}

// Sweep removes all TTL-expired entries and then trims the entry count down
// to MaxEntries, deleting oldest-by-creation-timestamp entries first.
func (c *Cache) Sweep(ctx context.Context) {
	now := c.clock()

	c.mu.Lock()
	for key, entry := range c.entries {
		if entry.expired(now) {
			c.removeLocked(ctx, key)
		}
	}

	if len(c.entries) > c.config.MaxEntries {
		byAge := make([]*Entry, 0, len(c.entries))
		for _, entry := range c.entries {
			byAge = append(byAge, entry)
		}
		sort.Slice(byAge, func(i, j int) bool {
			return byAge[i].Timestamp.Before(byAge[j].Timestamp)
		})
		for _, entry := range byAge {
			if len(c.entries) <= c.config.MaxEntries {
				break
			}
			c.removeLocked(ctx, entry.Key)
		}
	}
	c.mu.Unlock()

	if c.persistent != nil {
		if err := c.persistent.sweep(now); err != nil {
			log.WarnContext(ctx, "Persistent cache sweep failed", "error", err)
		}
	}
}
