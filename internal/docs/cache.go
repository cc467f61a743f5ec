package docs

import (
	"sync"
	"time"
)

// RecordCache is the advisory read cache consulted on single-record reads.
// It is never the source of truth for a write guard: the pipeline re-fetches
// from the store before any guarded write and invalidates, never updates,
// cached entries after a successful mutation.
type RecordCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	doc       Document
	expiresAt time.Time
}

// NewRecordCache constructs a cache whose entries live for ttl. A zero or
// negative ttl disables caching entirely.
func NewRecordCache(ttl time.Duration, clock func() time.Time) *RecordCache {
	if clock == nil {
		clock = time.Now
	}
	return &RecordCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached record for the key if it is still fresh.
func (c *RecordCache) Get(docTypeName, partition, id string) (Document, bool) {
	if c == nil || c.ttl <= 0 {
		return Document{}, false
	}
	key := cacheKey(docTypeName, partition, id)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, exists := c.entries[key]
	if !exists {
		return Document{}, false
	}
	if c.clock().After(entry.expiresAt) {
		delete(c.entries, key)
		return Document{}, false
	}
	return entry.doc.Clone(), true
}

// Put stores a copy of the record under its key.
func (c *RecordCache) Put(doc Document) {
	if c == nil || c.ttl <= 0 {
		return
	}
	key := cacheKey(doc.DocType, doc.Partition, doc.ID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		doc:       doc.Clone(),
		expiresAt: c.clock().Add(c.ttl),
	}
}

// Invalidate drops the cached entry for the key.
func (c *RecordCache) Invalidate(docTypeName, partition, id string) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(docTypeName, partition, id))
}

func cacheKey(docTypeName, partition, id string) string {
	return docTypeName + "\x00" + partition + "\x00" + id
}
