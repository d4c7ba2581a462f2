package uploader

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/filecollect/file-registry-backend/contenthash"
	"github.com/filecollect/file-registry-backend/interfaces"
	"github.com/filecollect/file-registry-backend/metrics"
	"github.com/filecollect/file-registry-backend/registry"
)

const (
	// remoteFetchTimeout bounds downloads of http(s) sources.
	remoteFetchTimeout = 30 * time.Second

	// maxSourceSize bounds how much content one ingestion may pull in.
	maxSourceSize = 256 << 20 // 256 MiB
)

// UploadRequest describes one piece of content to ingest. Exactly one of
// Bytes or SourceURI must be set; SourceURI accepts data: URIs and remote
// http(s) URLs.
type UploadRequest struct {
	Bytes     []byte
	SourceURI string

	Filename  string
	ScopeID   string
	Permanent bool
	Tags      []string
	Notes     string
}

// Coordinator ties the content hasher, the registry, and the storage
// backend into the ingestion flow.
type Coordinator struct {
	registry *registry.Registry
	backend  interfaces.StorageBackend
	client   *http.Client
	log      *slog.Logger
}

// NewCoordinator creates an upload coordinator over the given registry and
// storage backend.
func NewCoordinator(reg *registry.Registry, backend interfaces.StorageBackend, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		registry: reg,
		backend:  backend,
		client:   &http.Client{Timeout: remoteFetchTimeout},
		log:      log,
	}
}

// UploadAndRegister ingests content end to end: normalize the source, hash
// it, short-circuit on a dedup hit, otherwise upload to the backend and
// register the record. A registry failure after a successful upload is
// fatal so the orphaned object surfaces instead of disappearing silently.
func (c *Coordinator) UploadAndRegister(ctx context.Context, h registry.ContextHandle, req UploadRequest) (*interfaces.FileRecord, error) {
	data, sourceMime, err := c.normalize(ctx, req)
	if err != nil {
		return nil, err
	}

	hash := contenthash.Sum(data)
	mimeType := detectMimeType(data, sourceMime, req.Filename)

	existing, err := c.registry.ReadRecord(ctx, h, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		metrics.DedupHitsTotal.Inc()
		c.log.Debug("Dedup hit, skipping storage upload",
			slog.String("context_id", h.ID.String()),
			slog.String("hash", hash.String()))
		return c.registry.Upsert(ctx, h, hash, registry.RecordPatch{}, req.ScopeID)
	}

	objectURL, err := c.backend.Upload(ctx, data, hash)
	if err != nil {
		return nil, fmt.Errorf("upload to %s failed: %w", c.backend.Name(), err)
	}
	metrics.UploadsTotal.Inc()

	permanent := req.Permanent
	rec, err := c.registry.Upsert(ctx, h, hash, registry.RecordPatch{
		URL:             objectURL,
		DisplayFilename: req.Filename,
		MimeType:        mimeType,
		Tags:            req.Tags,
		Notes:           req.Notes,
		Permanent:       &permanent,
	}, req.ScopeID)
	if err != nil {
		return nil, fmt.Errorf("registration failed after upload, object %s is orphaned: %w", objectURL, err)
	}

	c.log.Info("Content uploaded and registered",
		slog.String("context_id", h.ID.String()),
		slog.String("hash", hash.String()),
		slog.String("url", objectURL),
		slog.Int("size", len(data)))
	return rec, nil
}

// normalize resolves the request's source into raw bytes plus the MIME type
// the source itself declared, when it declared one.
func (c *Coordinator) normalize(ctx context.Context, req UploadRequest) ([]byte, string, error) {
	switch {
	case req.Bytes != nil:
		if len(req.Bytes) == 0 {
			return nil, "", fmt.Errorf("%w: empty content", interfaces.ErrValidation)
		}
		return req.Bytes, "", nil
	case strings.HasPrefix(req.SourceURI, "data:"):
		return decodeDataURI(req.SourceURI)
	case strings.HasPrefix(req.SourceURI, "http://"), strings.HasPrefix(req.SourceURI, "https://"):
		return c.fetchRemote(ctx, req.SourceURI)
	case req.SourceURI != "":
		return nil, "", fmt.Errorf("%w: unsupported source %q", interfaces.ErrValidation, req.SourceURI)
	default:
		return nil, "", fmt.Errorf("%w: no content source", interfaces.ErrValidation)
	}
}

func (c *Coordinator) fetchRemote(ctx context.Context, sourceURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteFetchTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", interfaces.ErrValidation, err)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch %s: status %d", sourceURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", sourceURL, err)
	}
	if len(data) > maxSourceSize {
		return nil, "", fmt.Errorf("%w: source exceeds %d bytes", interfaces.ErrValidation, maxSourceSize)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty content at %s", interfaces.ErrValidation, sourceURL)
	}

	contentType, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	return data, strings.TrimSpace(contentType), nil
}

// decodeDataURI parses data:[mediatype][;base64],payload.
func decodeDataURI(uri string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed data URI", interfaces.ErrValidation)
	}

	var data []byte
	var err error
	if strings.HasSuffix(meta, ";base64") {
		meta = strings.TrimSuffix(meta, ";base64")
		data, err = base64.StdEncoding.DecodeString(payload)
	} else {
		var decoded string
		decoded, err = url.QueryUnescape(payload)
		data = []byte(decoded)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: malformed data URI payload: %v", interfaces.ErrValidation, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty data URI", interfaces.ErrValidation)
	}

	mediaType, _, _ := strings.Cut(meta, ";")
	return data, mediaType, nil
}

// detectMimeType picks the MIME type: the source's own declaration wins,
// then content sniffing, then the filename extension when sniffing is
// inconclusive.
func detectMimeType(data []byte, sourceMime, filename string) string {
	if sourceMime != "" {
		return sourceMime
	}

	sniffed := http.DetectContentType(data)
	if sniffed != "application/octet-stream" && !strings.HasPrefix(sniffed, "text/plain") {
		return sniffed
	}

	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		mediaType, _, _ := strings.Cut(byExt, ";")
		return mediaType
	}
	return sniffed
}
