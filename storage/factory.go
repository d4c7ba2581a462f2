package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/filecollect/file-registry-backend/interfaces"
)

// Factory creates storage backends from URI strings and composes mirrored
// configurations for redundant storage.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a new factory instance that can create storage
// backends.
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{log: logger}
}

// StorageBackendFor creates a storage backend from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - ipfs:// - IPFS node storage
//   - mem:// - In-memory storage (tests and development)
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *Factory) StorageBackendFor(locationURI interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	u, err := url.Parse(locationURI.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "s3":
		return f.createS3Backend(u)
	case "ipfs":
		return f.createIPFSBackend(u)
	case "file":
		return f.createFileBackend(u)
	case "mem":
		return NewMemoryBackend(u.Host, f.log), nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// CreateMirroredBackend creates a mirrored backend from a list of location
// URIs. The first URI is the authoritative primary; the rest receive
// best-effort replica writes. Invalid replica URIs are skipped with a
// warning, an invalid primary is an error.
func (f *Factory) CreateMirroredBackend(locationURIs []interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	if len(locationURIs) == 0 {
		return nil, fmt.Errorf("no storage locations provided")
	}

	primary, err := f.StorageBackendFor(locationURIs[0])
	if err != nil {
		return nil, fmt.Errorf("primary storage backend: %w", err)
	}

	backends := []interfaces.StorageBackend{primary}
	for _, uri := range locationURIs[1:] {
		backend, err := f.StorageBackendFor(uri)
		if err != nil {
			f.log.Warn("Failed to create replica storage backend",
				"err", err,
				slog.String("locationURI", uri.Raw))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 1 {
		return primary, nil
	}
	return NewMirroredBackend(backends, f.log)
}

// createS3Backend creates an S3 or S3-compatible storage backend.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=custom.s3.com
func (f *Factory) createS3Backend(u *url.URL) (interfaces.StorageBackend, error) {
	f.log.Debug("Creating S3 backend", slog.String("uri", u.Redacted()))

	bucketName := u.Host
	prefix := strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1" // Default region
	}
	endpoint := query.Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey, f.log)
}

// createIPFSBackend creates an IPFS storage backend.
// URI format: ipfs://host:port/
func (f *Factory) createIPFSBackend(u *url.URL) (interfaces.StorageBackend, error) {
	f.log.Debug("Creating IPFS backend", slog.String("uri", u.String()))
	return NewIPFSBackend(u.Hostname(), u.Port(), f.log)
}

// createFileBackend creates a file system storage backend.
// URI format: file:///absolute/path/
func (f *Factory) createFileBackend(u *url.URL) (interfaces.StorageBackend, error) {
	f.log.Debug("Creating file backend", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %q", interfaces.ErrInvalidLocationURI, u.String())
	}

	return NewFileBackend(path, f.log)
}
