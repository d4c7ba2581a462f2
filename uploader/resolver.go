package uploader

import (
	"context"
	"log/slog"
	"time"

	"github.com/filecollect/file-registry-backend/interfaces"
	"github.com/filecollect/file-registry-backend/metrics"
)

// defaultAccessTTL is used when a caller does not request a lifetime.
const defaultAccessTTL = 15 * time.Minute

// Access is a consumption-ready view of a record: the URL a downstream
// consumer should fetch, its content type, and the signed-URL expiry when
// one was issued.
type Access struct {
	URL       string
	MimeType  string
	ExpiresAt time.Time
}

// AccessResolver turns stored records into consumption URLs. URLs are
// issued fresh on every call and never cached; a signing failure degrades
// to the canonical long-lived URL instead of erroring.
type AccessResolver struct {
	backend interfaces.StorageBackend
	log     *slog.Logger
}

// NewAccessResolver creates a resolver over the storage backend.
func NewAccessResolver(backend interfaces.StorageBackend, log *slog.Logger) *AccessResolver {
	if log == nil {
		log = slog.Default()
	}
	return &AccessResolver{backend: backend, log: log}
}

// ResolveForConsumption returns the access view for a record. The derived
// representation takes precedence over the canonical one; when the backend
// can sign URLs, a short-lived URL replaces the canonical one.
func (r *AccessResolver) ResolveForConsumption(ctx context.Context, rec *interfaces.FileRecord, ttl time.Duration) Access {
	if ttl <= 0 {
		ttl = defaultAccessTTL
	}

	access := Access{
		URL:      rec.ConsumptionURL(),
		MimeType: rec.ConsumptionMimeType(),
	}

	signer, ok := r.backend.(interfaces.URLSigner)
	if !ok {
		return access
	}

	signed, err := signer.SignURL(ctx, access.URL, ttl)
	if err != nil {
		metrics.URLSignFailuresTotal.Inc()
		r.log.Warn("URL signing failed, serving canonical URL",
			slog.String("url", access.URL),
			"err", err)
		return access
	}

	access.URL = signed
	access.ExpiresAt = time.Now().Add(ttl)
	return access
}
