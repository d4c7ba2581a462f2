package uploader

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecollect/file-registry-backend/contenthash"
	"github.com/filecollect/file-registry-backend/interfaces"
	"github.com/filecollect/file-registry-backend/kvstore"
	"github.com/filecollect/file-registry-backend/registry"
	"github.com/filecollect/file-registry-backend/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T) (*Coordinator, *registry.Registry, *storage.MemoryBackend) {
	t.Helper()
	log := testLogger()
	reg := registry.New(kvstore.NewMemoryStore(), log)
	backend := storage.NewMemoryBackend("test", log)
	return NewCoordinator(reg, backend, log), reg, backend
}

func TestUploadAndRegisterBytes(t *testing.T) {
	c, _, backend := newTestCoordinator(t)
	h := registry.NewContextHandle("ctx-1", "")

	content := []byte("%PDF-1.7 quarterly report")
	rec, err := c.UploadAndRegister(context.Background(), h, UploadRequest{
		Bytes:    content,
		Filename: "report.pdf",
		ScopeID:  "chat-1",
	})
	require.NoError(t, err)

	assert.Equal(t, contenthash.Sum(content), rec.Hash)
	assert.Equal(t, "report.pdf", rec.DisplayFilename)
	assert.True(t, rec.Visibility.Contains("chat-1"))
	assert.Equal(t, 1, backend.Len())

	stored, err := backend.Download(context.Background(), rec.URL)
	require.NoError(t, err)
	assert.Equal(t, content, stored)
}

func TestUploadDedupSkipsStorage(t *testing.T) {
	c, reg, backend := newTestCoordinator(t)
	ctx := context.Background()
	h := registry.NewContextHandle("ctx-1", "")
	content := []byte("same content twice")

	first, err := c.UploadAndRegister(ctx, h, UploadRequest{Bytes: content, Filename: "a.txt", ScopeID: "chat-1"})
	require.NoError(t, err)
	require.Equal(t, 1, backend.Len())

	second, err := c.UploadAndRegister(ctx, h, UploadRequest{Bytes: content, Filename: "b.txt", ScopeID: "chat-2"})
	require.NoError(t, err)
	reg.Flush()

	assert.Equal(t, 1, backend.Len(), "dedup hit must not touch storage")
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, "a.txt", second.DisplayFilename, "dedup keeps the original metadata")
	assert.True(t, second.Visibility.Contains("chat-1"))
	assert.True(t, second.Visibility.Contains("chat-2"), "dedup still merges the new scope")
}

func TestUploadDataURI(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	h := registry.NewContextHandle("ctx-1", "")
	payload := base64.StdEncoding.EncodeToString([]byte("hello png"))

	rec, err := c.UploadAndRegister(context.Background(), h, UploadRequest{
		SourceURI: "data:image/png;base64," + payload,
		Filename:  "pixel.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", rec.MimeType, "data URI media type wins")
	assert.Equal(t, contenthash.Sum([]byte("hello png")), rec.Hash)
}

func TestUploadPlainDataURI(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	h := registry.NewContextHandle("ctx-1", "")

	rec, err := c.UploadAndRegister(context.Background(), h, UploadRequest{
		SourceURI: "data:text/plain,hello%20world",
	})
	require.NoError(t, err)
	assert.Equal(t, contenthash.Sum([]byte("hello world")), rec.Hash)
	assert.Equal(t, "text/plain", rec.MimeType)
}

func TestUploadRemoteSource(t *testing.T) {
	content := []byte("remote file body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(content)
	}))
	defer srv.Close()

	c, _, _ := newTestCoordinator(t)
	h := registry.NewContextHandle("ctx-1", "")

	rec, err := c.UploadAndRegister(context.Background(), h, UploadRequest{SourceURI: srv.URL + "/file.json"})
	require.NoError(t, err)
	assert.Equal(t, contenthash.Sum(content), rec.Hash)
	assert.Equal(t, "application/json", rec.MimeType, "charset parameter is stripped")
}

func TestUploadRemoteSourceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c, _, _ := newTestCoordinator(t)
	h := registry.NewContextHandle("ctx-1", "")

	_, err := c.UploadAndRegister(context.Background(), h, UploadRequest{SourceURI: srv.URL})
	assert.Error(t, err)
}

func TestUploadInvalidSource(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	h := registry.NewContextHandle("ctx-1", "")

	tests := []struct {
		name string
		req  UploadRequest
	}{
		{"no source", UploadRequest{}},
		{"empty bytes", UploadRequest{Bytes: []byte{}}},
		{"unsupported scheme", UploadRequest{SourceURI: "ftp://host/file"}},
		{"malformed data uri", UploadRequest{SourceURI: "data:no-comma"}},
		{"empty data uri", UploadRequest{SourceURI: "data:text/plain,"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.UploadAndRegister(context.Background(), h, tc.req)
			assert.ErrorIs(t, err, interfaces.ErrValidation)
		})
	}
}

func TestDetectMimeType(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		sourceMime string
		filename   string
		want       string
	}{
		{"source declaration wins", []byte("x"), "application/pdf", "a.png", "application/pdf"},
		{"sniffed from magic bytes", []byte("\x89PNG\r\n\x1a\n rest"), "", "noext", "image/png"},
		{"extension fallback", []byte("plain words"), "", "notes.pdf", "application/pdf"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, detectMimeType(tc.data, tc.sourceMime, tc.filename))
		})
	}
}
