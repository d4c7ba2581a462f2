package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/filecollect/file-registry-backend/interfaces"
)

// IPFSBackend implements a storage backend against an IPFS node. IPFS does
// its own content addressing, so the canonical URL carries the CID rather
// than the registry hash.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates a new IPFS storage backend connected to the
// specified host and port.
func NewIPFSBackend(host, port string, log *slog.Logger) (*IPFSBackend, error) {
	if port == "" {
		port = "5001" // Default IPFS API port
	}
	apiURL := fmt.Sprintf("%s:%s", host, port)

	return &IPFSBackend{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/", apiURL),
	}, nil
}

// Upload adds data to IPFS, pins it, and returns an ipfs:// URL carrying
// the CID.
func (b *IPFSBackend) Upload(ctx context.Context, data []byte, hash interfaces.FileHash) (string, error) {
	if !b.shell.IsUp() {
		return "", interfaces.ErrBackendUnavailable
	}

	cid, err := b.shell.Add(bytes.NewReader(data), shell.Pin(true))
	if err != nil {
		return "", fmt.Errorf("failed to add data to IPFS: %w", err)
	}

	b.log.Debug("Stored content in IPFS",
		slog.String("cid", cid),
		slog.String("hash", hash.String()),
		slog.Int("size", len(data)))

	return "ipfs://" + cid, nil
}

// Download retrieves data by its ipfs:// URL. Returns ErrContentNotFound
// if the content doesn't exist on the node.
func (b *IPFSBackend) Download(ctx context.Context, objectURL string) ([]byte, error) {
	start := time.Now()
	cid, err := cidFromURL(objectURL)
	if err != nil {
		return nil, err
	}

	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port))
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := b.shell.Cat(cid)
	if err != nil {
		if strings.Contains(err.Error(), "no link named") || strings.Contains(err.Error(), "not found") {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to fetch data from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	b.log.Debug("Fetched content from IPFS",
		slog.String("cid", cid),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Delete unpins the content; the node's garbage collector reclaims it.
func (b *IPFSBackend) Delete(ctx context.Context, urlOrPrefix string) ([]string, error) {
	cid, err := cidFromURL(strings.TrimSuffix(urlOrPrefix, "/"))
	if err != nil {
		return nil, err
	}

	if !b.shell.IsUp() {
		return nil, interfaces.ErrBackendUnavailable
	}

	if err := b.shell.Unpin(cid); err != nil {
		if strings.Contains(err.Error(), "not pinned") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to unpin IPFS content: %w", err)
	}
	return []string{cid}, nil
}

// Exists checks whether the node can stat the CID.
func (b *IPFSBackend) Exists(ctx context.Context, objectURL string) (bool, error) {
	cid, err := cidFromURL(objectURL)
	if err != nil {
		return false, err
	}

	if !b.shell.IsUp() {
		return false, interfaces.ErrBackendUnavailable
	}

	if _, err := b.shell.ObjectStat(cid); err != nil {
		if strings.Contains(err.Error(), "not found") {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat IPFS content: %w", err)
	}
	return true, nil
}

// Available checks if the IPFS node is reachable.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s", b.host)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func cidFromURL(objectURL string) (string, error) {
	cid, ok := strings.CutPrefix(objectURL, "ipfs://")
	if !ok || cid == "" {
		return "", fmt.Errorf("%w: %q is not an ipfs URL", interfaces.ErrInvalidLocationURI, objectURL)
	}
	return cid, nil
}
