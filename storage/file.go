package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/filecollect/file-registry-backend/interfaces"
)

// FileBackend implements a storage backend using the local file system.
// Objects are stored flat under the base directory, named by content hash.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file storage backend using the specified
// base directory, creating it if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     abs,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", abs),
	}, nil
}

// Upload writes data under a hash-derived filename and returns the
// canonical file:// URL.
func (b *FileBackend) Upload(ctx context.Context, data []byte, hash interfaces.FileHash) (string, error) {
	filePath := filepath.Join(b.baseDir, hash.String())

	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	b.log.Debug("Stored content in file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return "file://" + filePath, nil
}

// Download reads the file referenced by the canonical URL. Returns
// ErrContentNotFound if the file doesn't exist.
func (b *FileBackend) Download(ctx context.Context, objectURL string) ([]byte, error) {
	filePath, err := b.pathFromURL(objectURL)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Fetched content from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// Delete removes the file at the URL, or every file whose name starts with
// the final path element when the URL ends with a slash.
func (b *FileBackend) Delete(ctx context.Context, urlOrPrefix string) ([]string, error) {
	if !strings.HasSuffix(urlOrPrefix, "/") {
		filePath, err := b.pathFromURL(urlOrPrefix)
		if err != nil {
			return nil, err
		}
		if err := os.Remove(filePath); err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to delete file: %w", err)
		}
		return []string{filepath.Base(filePath)}, nil
	}

	prefixPath, err := b.pathFromURL(strings.TrimSuffix(urlOrPrefix, "/"))
	if err != nil {
		return nil, err
	}
	namePrefix := filepath.Base(prefixPath)

	entries, err := os.ReadDir(b.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list base directory: %w", err)
	}

	var deleted []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), namePrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(b.baseDir, entry.Name())); err != nil {
			b.log.Warn("Failed to delete file during prefix delete",
				slog.String("name", entry.Name()),
				"err", err)
			continue
		}
		deleted = append(deleted, entry.Name())
	}
	return deleted, nil
}

// Exists checks whether a file is present at the URL.
func (b *FileBackend) Exists(ctx context.Context, objectURL string) (bool, error) {
	filePath, err := b.pathFromURL(objectURL)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// Available checks if the file backend is accessible by verifying the base
// directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

// pathFromURL resolves a file:// URL to a path inside the base directory.
// Paths escaping the base directory are rejected.
func (b *FileBackend) pathFromURL(objectURL string) (string, error) {
	u, err := url.Parse(objectURL)
	if err != nil || u.Scheme != "file" {
		return "", fmt.Errorf("%w: %q is not a file URL", interfaces.ErrInvalidLocationURI, objectURL)
	}

	filePath := filepath.Clean(u.Path)
	if u.Host != "" {
		filePath = filepath.Clean("/" + u.Host + u.Path)
	}
	if !strings.HasPrefix(filePath, b.baseDir+string(filepath.Separator)) && filePath != b.baseDir {
		return "", fmt.Errorf("%w: %q escapes backend directory", interfaces.ErrInvalidLocationURI, objectURL)
	}
	return filePath, nil
}
