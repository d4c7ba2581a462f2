package uploader

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecollect/file-registry-backend/contenthash"
	"github.com/filecollect/file-registry-backend/interfaces"
	"github.com/filecollect/file-registry-backend/storage"
)

func TestResolveSignsURL(t *testing.T) {
	backend := storage.NewMemoryBackend("test", testLogger())
	resolver := NewAccessResolver(backend, testLogger())

	content := []byte("signed content")
	hash := contenthash.Sum(content)
	objectURL, err := backend.Upload(context.Background(), content, hash)
	require.NoError(t, err)

	rec := &interfaces.FileRecord{Hash: hash, URL: objectURL, MimeType: "text/plain"}
	access := resolver.ResolveForConsumption(context.Background(), rec, 5*time.Minute)

	assert.True(t, strings.HasPrefix(access.URL, objectURL+"?expires="))
	assert.Equal(t, "text/plain", access.MimeType)
	assert.False(t, access.ExpiresAt.IsZero())
}

func TestResolveDerivedTakesPrecedence(t *testing.T) {
	backend := storage.NewMemoryBackend("test", testLogger())
	resolver := NewAccessResolver(backend, testLogger())

	derived := []byte("rendered preview")
	derivedURL, err := backend.Upload(context.Background(), derived, contenthash.Sum(derived))
	require.NoError(t, err)

	rec := &interfaces.FileRecord{
		URL:      "mem://test/original",
		MimeType: "application/pdf",
		Derived:  &interfaces.FileRecord{URL: derivedURL, MimeType: "image/png"},
	}
	access := resolver.ResolveForConsumption(context.Background(), rec, time.Minute)

	assert.True(t, strings.HasPrefix(access.URL, derivedURL))
	assert.Equal(t, "image/png", access.MimeType)
}

func TestResolveFallsBackOnSigningFailure(t *testing.T) {
	backend := storage.NewMemoryBackend("test", testLogger())
	resolver := NewAccessResolver(backend, testLogger())

	// The object was never uploaded, so signing fails; the canonical URL
	// must still come back.
	rec := &interfaces.FileRecord{URL: "mem://test/missing", MimeType: "text/plain"}
	access := resolver.ResolveForConsumption(context.Background(), rec, time.Minute)

	assert.Equal(t, "mem://test/missing", access.URL)
	assert.True(t, access.ExpiresAt.IsZero())
}

func TestResolveWithoutSigner(t *testing.T) {
	dir := t.TempDir()
	backend, err := storage.NewFileBackend(dir, testLogger())
	require.NoError(t, err)
	resolver := NewAccessResolver(backend, testLogger())

	rec := &interfaces.FileRecord{URL: "file://" + dir + "/abc", MimeType: "text/plain"}
	access := resolver.ResolveForConsumption(context.Background(), rec, 0)

	assert.Equal(t, rec.URL, access.URL, "non-signing backends serve the canonical URL")
}
