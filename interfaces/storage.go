package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	// ErrContentNotFound is returned when requested content cannot be found
	// in the storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a storage backend or the
	// backing key-value store is not accessible. This could be due to
	// network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is
	// malformed or unsupported. URIs must follow the format
	// [scheme]://[auth@]host[:port][/path][?params].
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// ErrVersionConflict is returned when a versioned swap observes a
	// snapshot token change between read and write.
	ErrVersionConflict = errors.New("collection version conflict")

	// ErrConcurrencyExhausted is returned when a versioned swap still
	// conflicts after all retry attempts.
	ErrConcurrencyExhausted = errors.New("concurrency retries exhausted")

	// ErrValidation is returned when a required identifier is missing or
	// malformed. Validation failures are never silently defaulted.
	ErrValidation = errors.New("validation failed")
)

// StorageBackendLocation represents a parsed URI for a storage backend or
// key-value store.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStorageBackendLocation creates a new storage location from a URI string
// with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3", "ipfs", "vault", "mem":
		// Valid scheme
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// StorageBackend stores file content addressed by URL.
type StorageBackend interface {
	// Upload saves data and returns its canonical storage URL.
	Upload(ctx context.Context, data []byte, hash FileHash) (string, error)

	// Download retrieves data by its canonical URL.
	Download(ctx context.Context, url string) ([]byte, error)

	// Delete removes objects matching the URL or prefix and returns the
	// identifiers of the removed objects.
	Delete(ctx context.Context, urlOrPrefix string) ([]string, error)

	// Exists checks whether an object is present at the URL.
	Exists(ctx context.Context, url string) (bool, error)

	// Available checks if the backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// URLSigner is implemented by backends that can issue short-lived access
// URLs from a canonical stored URL.
type URLSigner interface {
	// SignURL derives a time-boxed URL via the backend's native
	// temporary-credential mechanism.
	SignURL(ctx context.Context, url string, ttl time.Duration) (string, error)
}

// KVStore is the backing key-value store holding one field map per context.
// Fields are atomic at single-field granularity; the store is the single
// source of truth across processes.
type KVStore interface {
	// GetAllFields returns the whole field map of a context. A missing
	// context yields an empty map, not an error.
	GetAllFields(ctx context.Context, contextID ContextID) (map[string]string, error)

	// GetField returns one field. The boolean reports presence; absence is
	// a value, not an error.
	GetField(ctx context.Context, contextID ContextID, field string) (string, bool, error)

	// SetField writes one field atomically.
	SetField(ctx context.Context, contextID ContextID, field, value string) error

	// DeleteField removes one field. Deleting an absent field is a no-op.
	DeleteField(ctx context.Context, contextID ContextID, field string) error

	// Name returns identifier for logging.
	Name() string
}

// StorageBackendFactory creates storage backends from location URIs.
type StorageBackendFactory interface {
	// StorageBackendFor creates a backend from a URI.
	// Supports file://, s3://, ipfs://, mem://
	StorageBackendFor(locationURI StorageBackendLocation) (StorageBackend, error)

	// CreateMirroredBackend creates a backend whose first location is
	// authoritative and whose remaining locations receive best-effort
	// replica writes.
	CreateMirroredBackend(locationURIs []StorageBackendLocation) (StorageBackend, error)
}
