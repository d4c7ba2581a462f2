package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/filecollect/file-registry-backend/interfaces"
)

// MemoryBackend is an in-process storage backend for tests and local
// development. It also implements interfaces.URLSigner so the access
// resolver's signing path can be exercised without cloud credentials.
type MemoryBackend struct {
	name string
	log  *slog.Logger

	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(name string, log *slog.Logger) *MemoryBackend {
	if name == "" {
		name = "default"
	}
	return &MemoryBackend{
		name:    name,
		log:     log,
		objects: make(map[string][]byte),
	}
}

// Upload stores data in memory and returns a mem:// URL.
func (b *MemoryBackend) Upload(ctx context.Context, data []byte, hash interfaces.FileHash) (string, error) {
	objectURL := fmt.Sprintf("mem://%s/%s", b.name, hash.String())

	b.mu.Lock()
	b.objects[objectURL] = append([]byte(nil), data...)
	b.mu.Unlock()

	b.log.Debug("Stored content in memory",
		slog.String("url", objectURL),
		slog.Int("size", len(data)))
	return objectURL, nil
}

// Download retrieves data by URL.
func (b *MemoryBackend) Download(ctx context.Context, objectURL string) ([]byte, error) {
	b.mu.RLock()
	data, ok := b.objects[objectURL]
	b.mu.RUnlock()

	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	return append([]byte(nil), data...), nil
}

// Delete removes the object at the URL, or every object under the prefix
// when the URL ends with a slash.
func (b *MemoryBackend) Delete(ctx context.Context, urlOrPrefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !strings.HasSuffix(urlOrPrefix, "/") {
		if _, ok := b.objects[urlOrPrefix]; !ok {
			return nil, nil
		}
		delete(b.objects, urlOrPrefix)
		return []string{urlOrPrefix}, nil
	}

	var deleted []string
	for objectURL := range b.objects {
		if strings.HasPrefix(objectURL, urlOrPrefix) {
			delete(b.objects, objectURL)
			deleted = append(deleted, objectURL)
		}
	}
	return deleted, nil
}

// Exists checks whether an object is present at the URL.
func (b *MemoryBackend) Exists(ctx context.Context, objectURL string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[objectURL]
	return ok, nil
}

// SignURL fakes a temporary-credential URL by appending an expiry
// parameter. Good enough for tests and the dev loop.
func (b *MemoryBackend) SignURL(ctx context.Context, objectURL string, ttl time.Duration) (string, error) {
	b.mu.RLock()
	_, ok := b.objects[objectURL]
	b.mu.RUnlock()
	if !ok {
		return "", interfaces.ErrContentNotFound
	}
	return fmt.Sprintf("%s?expires=%d", objectURL, time.Now().Add(ttl).Unix()), nil
}

// Available always reports true.
func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

// Len returns the number of stored objects.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// Name returns a unique identifier for this storage backend.
func (b *MemoryBackend) Name() string {
	return fmt.Sprintf("mem-%s", b.name)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *MemoryBackend) LocationURI() string {
	return fmt.Sprintf("mem://%s/", b.name)
}
