package kvstore

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/filecollect/file-registry-backend/interfaces"
)

// StoreFor creates a backing key-value store from a location URI.
//
// Supported schemes:
//   - vault://host:port/mount/data-path?token=...&tls=true
//   - mem:// (in-memory, single process)
func StoreFor(uri string, log *slog.Logger) (interfaces.KVStore, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mem":
		return NewMemoryStore(), nil
	case "vault":
		scheme := "http"
		if u.Query().Get("tls") == "true" {
			scheme = "https"
		}
		address := fmt.Sprintf("%s://%s", scheme, u.Host)

		parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
		mountPath := "secret"
		dataPath := "file-registry"
		if len(parts) > 0 && parts[0] != "" {
			mountPath = parts[0]
		}
		if len(parts) > 1 {
			dataPath = parts[1]
		}

		return NewVaultStore(address, u.Query().Get("token"), mountPath, dataPath, log)
	default:
		return nil, fmt.Errorf("%w: unsupported KV store scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}
