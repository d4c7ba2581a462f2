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

// MirroredBackend composes one authoritative primary backend with
// best-effort replicas. Uploads hit the primary synchronously and fan out
// to replicas in the background; a replica failure is logged and ignored.
// Reads fall back to replicas only when the primary cannot serve them.
type MirroredBackend struct {
	primary  interfaces.StorageBackend
	replicas []interfaces.StorageBackend
	log      *slog.Logger

	inflight sync.WaitGroup
}

// NewMirroredBackend creates a mirrored backend. The first backend is
// authoritative; the rest receive replica writes.
func NewMirroredBackend(backends []interfaces.StorageBackend, logger *slog.Logger) (*MirroredBackend, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("mirrored backend requires at least one backend")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MirroredBackend{
		primary:  backends[0],
		replicas: backends[1:],
		log:      logger,
	}, nil
}

// Upload stores data on the primary and returns its URL. Replica uploads
// happen in the background and never fail the call.
func (m *MirroredBackend) Upload(ctx context.Context, data []byte, hash interfaces.FileHash) (string, error) {
	start := time.Now()

	primaryURL, err := m.primary.Upload(ctx, data, hash)
	if err != nil {
		return "", fmt.Errorf("primary backend %s: %w", m.primary.Name(), err)
	}

	m.log.Debug("Stored content on primary",
		slog.String("backend_name", m.primary.Name()),
		slog.String("hash", hash.String()),
		slog.Duration("duration", time.Since(start)))

	for _, replica := range m.replicas {
		m.inflight.Add(1)
		go func(replica interfaces.StorageBackend) {
			defer m.inflight.Done()

			// Detached from the caller's deadline; a slow replica must not
			// inherit an already-expired context.
			replicaCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()

			if _, err := replica.Upload(replicaCtx, data, hash); err != nil {
				m.log.Warn("Replica upload failed",
					slog.String("backend_name", replica.Name()),
					slog.String("hash", hash.String()),
					"err", err)
				return
			}
			m.log.Debug("Replica upload completed",
				slog.String("backend_name", replica.Name()),
				slog.String("hash", hash.String()))
		}(replica)
	}

	return primaryURL, nil
}

// Flush waits for in-flight replica uploads. Tests and graceful shutdown
// use it; normal operation never blocks on replicas.
func (m *MirroredBackend) Flush() {
	m.inflight.Wait()
}

// Download retrieves data, falling back to replicas when the primary
// cannot serve the URL.
func (m *MirroredBackend) Download(ctx context.Context, objectURL string) ([]byte, error) {
	var errs []error
	for _, backend := range m.allBackends() {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		data, err := backend.Download(ctx, objectURL)
		if err == nil {
			return data, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
	}
	return nil, fmt.Errorf("all backends failed to fetch %s: %v", objectURL, errs)
}

// Delete removes the object from the primary and best-effort from
// replicas. Only the primary's result is authoritative.
func (m *MirroredBackend) Delete(ctx context.Context, urlOrPrefix string) ([]string, error) {
	deleted, err := m.primary.Delete(ctx, urlOrPrefix)
	if err != nil {
		return nil, fmt.Errorf("primary backend %s: %w", m.primary.Name(), err)
	}

	for _, replica := range m.replicas {
		if _, replicaErr := replica.Delete(ctx, urlOrPrefix); replicaErr != nil {
			m.log.Warn("Replica delete failed",
				slog.String("backend_name", replica.Name()),
				"err", replicaErr)
		}
	}
	return deleted, nil
}

// Exists checks the primary, falling back to replicas on error.
func (m *MirroredBackend) Exists(ctx context.Context, objectURL string) (bool, error) {
	ok, err := m.primary.Exists(ctx, objectURL)
	if err == nil {
		return ok, nil
	}

	for _, replica := range m.replicas {
		if ok, replicaErr := replica.Exists(ctx, objectURL); replicaErr == nil {
			return ok, nil
		}
	}
	return false, err
}

// SignURL delegates to the primary when it can issue short-lived URLs.
func (m *MirroredBackend) SignURL(ctx context.Context, objectURL string, ttl time.Duration) (string, error) {
	signer, ok := m.primary.(interfaces.URLSigner)
	if !ok {
		return "", fmt.Errorf("backend %s cannot issue short-lived URLs", m.primary.Name())
	}
	return signer.SignURL(ctx, objectURL, ttl)
}

// Available reports whether the primary is accessible.
func (m *MirroredBackend) Available(ctx context.Context) bool {
	return m.primary.Available(ctx)
}

// Name returns the name of this backend.
func (m *MirroredBackend) Name() string {
	return "mirrored-" + m.primary.Name()
}

// LocationURI returns the combined URI of all backends.
func (m *MirroredBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.allBackends() {
		locations = append(locations, backend.LocationURI())
	}
	return "mirror:[" + strings.Join(locations, ",") + "]"
}

func (m *MirroredBackend) allBackends() []interfaces.StorageBackend {
	return append([]interfaces.StorageBackend{m.primary}, m.replicas...)
}
