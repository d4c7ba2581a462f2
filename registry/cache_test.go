package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/filecollect/file-registry-backend/interfaces"
)

func TestCollectionCacheTTL(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	cache := newCollectionCache(func() time.Time { return now })

	snapshot := map[interfaces.FileHash]*interfaces.FileRecord{}
	cache.put("ctx-1", "", snapshot, cache.generation("ctx-1"))

	_, ok := cache.get("ctx-1", "")
	assert.True(t, ok)

	now = now.Add(snapshotTTL - time.Millisecond)
	_, ok = cache.get("ctx-1", "")
	assert.True(t, ok, "snapshot younger than the TTL is served")

	now = now.Add(time.Millisecond)
	_, ok = cache.get("ctx-1", "")
	assert.False(t, ok, "snapshot at the TTL boundary has expired")
}

func TestCollectionCacheInvalidateDropsAllFingerprints(t *testing.T) {
	cache := newCollectionCache(nil)
	snapshot := map[interfaces.FileHash]*interfaces.FileRecord{}

	cache.put("ctx-1", "fp-a", snapshot, cache.generation("ctx-1"))
	cache.put("ctx-1", "fp-b", snapshot, cache.generation("ctx-1"))
	cache.put("ctx-2", "fp-a", snapshot, cache.generation("ctx-2"))

	cache.invalidate("ctx-1")

	_, ok := cache.get("ctx-1", "fp-a")
	assert.False(t, ok)
	_, ok = cache.get("ctx-1", "fp-b")
	assert.False(t, ok)
	_, ok = cache.get("ctx-2", "fp-a")
	assert.True(t, ok, "other contexts keep their snapshots")
}

func TestCollectionCacheKeyFingerprintPartitioning(t *testing.T) {
	cache := newCollectionCache(nil)
	cache.put("ctx-1", "fp-a", map[interfaces.FileHash]*interfaces.FileRecord{}, cache.generation("ctx-1"))

	_, ok := cache.get("ctx-1", "fp-b")
	assert.False(t, ok, "a different key never sees another key's decryption")
}

func TestCollectionCacheDiscardsStaleGeneration(t *testing.T) {
	cache := newCollectionCache(nil)

	// A reader captures the generation, then a write invalidates before the
	// reader installs what it fetched. The stale snapshot must be dropped.
	generation := cache.generation("ctx-1")
	cache.invalidate("ctx-1")
	cache.put("ctx-1", "", map[interfaces.FileHash]*interfaces.FileRecord{}, generation)

	_, ok := cache.get("ctx-1", "")
	assert.False(t, ok, "a snapshot fetched before an invalidation must not be installed")

	cache.put("ctx-1", "", map[interfaces.FileHash]*interfaces.FileRecord{}, cache.generation("ctx-1"))
	_, ok = cache.get("ctx-1", "")
	assert.True(t, ok, "a snapshot at the current generation is installed")
}

func TestCollectionCacheGenerationIsPerContext(t *testing.T) {
	cache := newCollectionCache(nil)

	generation := cache.generation("ctx-2")
	cache.invalidate("ctx-1")

	cache.put("ctx-2", "", map[interfaces.FileHash]*interfaces.FileRecord{}, generation)
	_, ok := cache.get("ctx-2", "")
	assert.True(t, ok, "another context's invalidation must not drop this snapshot")
}
