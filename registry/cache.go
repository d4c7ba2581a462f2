package registry

import (
	"sync"
	"time"

	"github.com/filecollect/file-registry-backend/interfaces"
)

// snapshotTTL bounds how long a cached collection snapshot may serve reads.
const snapshotTTL = 5 * time.Second

type cacheKey struct {
	contextID      interfaces.ContextID
	keyFingerprint string
}

type cacheEntry struct {
	records   map[interfaces.FileHash]*interfaces.FileRecord
	fetchedAt time.Time
}

// collectionCache is a read-through cache of decoded per-context snapshots.
// It only accelerates repeated reads: every registry write invalidates the
// affected context, so a read after a write never observes stale data.
//
// Invalidation is generation-based. A reader records the context's
// generation before fetching from the store; put discards the snapshot if
// the generation moved in the meantime, so a fetch that raced a write can
// never install pre-write data.
type collectionCache struct {
	now func() time.Time

	mu          sync.RWMutex
	entries     map[cacheKey]cacheEntry
	generations map[interfaces.ContextID]uint64
}

func newCollectionCache(now func() time.Time) *collectionCache {
	if now == nil {
		now = time.Now
	}
	return &collectionCache{
		now:         now,
		entries:     make(map[cacheKey]cacheEntry),
		generations: make(map[interfaces.ContextID]uint64),
	}
}

// generation returns the context's current invalidation generation. Readers
// capture it before fetching the snapshot they intend to cache.
func (c *collectionCache) generation(contextID interfaces.ContextID) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[contextID]
}

// get returns the cached snapshot if present and younger than the TTL.
func (c *collectionCache) get(contextID interfaces.ContextID, fingerprint string) (map[interfaces.FileHash]*interfaces.FileRecord, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey{contextID, fingerprint}]
	c.mu.RUnlock()

	if !ok || c.now().Sub(entry.fetchedAt) >= snapshotTTL {
		return nil, false
	}
	return entry.records, true
}

// put installs a snapshot fetched while the context was at generation. A
// snapshot whose generation is no longer current raced an invalidation and
// is dropped.
func (c *collectionCache) put(contextID interfaces.ContextID, fingerprint string, records map[interfaces.FileHash]*interfaces.FileRecord, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[contextID] != generation {
		return
	}
	c.entries[cacheKey{contextID, fingerprint}] = cacheEntry{records: records, fetchedAt: c.now()}
}

// invalidate drops every snapshot of the context, across all key
// fingerprints, and advances the generation so in-flight reads cannot
// re-install what they fetched before the write.
func (c *collectionCache) invalidate(contextID interfaces.ContextID) {
	c.mu.Lock()
	c.generations[contextID]++
	for key := range c.entries {
		if key.contextID == contextID {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
