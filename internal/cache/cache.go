// Package cache provides a content-addressed cache of prior extraction
// results, keyed by a stable hash of (provider, operation, normalized input).
package cache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/granabot/grana/internal/model"
)

// DefaultTTL is the sliding expiration applied when none is configured.
const DefaultTTL = 24 * time.Hour

// statsSampleSize bounds the work done by Stats: size is estimated from a
// sample instead of scanning the full keyspace.
const statsSampleSize = 256

// Entry is one cached payload.
type Entry struct {
	CreatedAt time.Time
	Provider  model.Provider
	Operation model.Operation
	Payload   []byte
	HitCount  int64
}

// KeyHits pairs a cache key with its hit count for Stats reporting.
type KeyHits struct {
	Key      string
	Provider model.Provider
	HitCount int64
}

// Stats summarizes the cache without a full scan.
type Stats struct {
	TotalKeys      int
	EstimatedBytes int64
	TopHits        []KeyHits
}

type record struct {
	entry     Entry
	expiresAt time.Time
}

// Cache is a thread-safe TTL cache. Every hit refreshes the entry's expiry,
// so hot entries never expire while in active use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*record
	stopCh  chan struct{}
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache with the given sliding TTL (0 means DefaultTTL) and
// starts its cleanup goroutine.
func New(ttl time.Duration) *Cache {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	c := &Cache{
		entries: make(map[string]*record),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	go c.cleanup()

	return c
}

// TextKey derives the cache key for text input. The text is lowercased and
// trimmed first so trivially different phrasings of the same input collide.
func TextKey(provider model.Provider, op model.Operation, text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", provider, op, normalized)))
	return fmt.Sprintf("%x", sum)
}

// BinaryKey derives the cache key for binary input. The bytes are hashed
// once, then the digest is hashed with the namespace: large buffers are never
// hashed twice and key length stays constant.
func BinaryKey(provider model.Provider, op model.Operation, data []byte) string {
	inner := sha256.Sum256(data)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%x", provider, op, inner)))
	return fmt.Sprintf("%x", sum)
}

// Get returns the entry for key, refreshing its TTL and hit count.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}

	now := c.now()
	if now.After(rec.expiresAt) {
		delete(c.entries, key)
		return Entry{}, false
	}

	rec.entry.HitCount++
	rec.expiresAt = now.Add(c.ttl)
	return rec.entry, true
}

// Put stores a payload under key.
func (c *Cache) Put(key string, provider model.Provider, op model.Operation, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = &record{
		entry: Entry{
			Provider:  provider,
			Operation: op,
			Payload:   payload,
			CreatedAt: now,
		},
		expiresAt: now.Add(c.ttl),
	}
}

// Stats reports key count, a sampled size estimate and the top-N entries by
// hit count.
func (c *Cache) Stats(topN int) Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{TotalKeys: len(c.entries)}
	if len(c.entries) == 0 {
		return stats
	}

	var sampled int
	var sampledBytes int64
	hits := make([]KeyHits, 0, len(c.entries))

	for key, rec := range c.entries {
		if sampled < statsSampleSize {
			sampledBytes += int64(len(key) + len(rec.entry.Payload))
			sampled++
		}
		hits = append(hits, KeyHits{
			Key:      key,
			Provider: rec.entry.Provider,
			HitCount: rec.entry.HitCount,
		})
	}

	stats.EstimatedBytes = sampledBytes * int64(len(c.entries)) / int64(sampled)

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].HitCount > hits[j].HitCount })
	if topN > 0 && topN < len(hits) {
		hits = hits[:topN]
	}
	stats.TopHits = hits

	return stats
}

// Purge removes entries for one provider, or all entries when provider is
// empty. Returns the number of entries removed.
func (c *Cache) Purge(provider model.Provider) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if provider == "" {
		n := len(c.entries)
		c.entries = make(map[string]*record)
		return n
	}

	var n int
	for key, rec := range c.entries {
		if rec.entry.Provider == provider {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// cleanup periodically removes expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for key, rec := range c.entries {
				if now.After(rec.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	close(c.stopCh)
}
