// Package metrics exposes the service's Prometheus metrics and the
// dedicated listener that serves them.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UploadsTotal counts uploads that reached the storage backend.
	UploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileregistry_uploads_total",
		Help: "Number of objects uploaded to the primary storage backend.",
	})

	// DedupHitsTotal counts uploads short-circuited by the content hash.
	DedupHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileregistry_dedup_hits_total",
		Help: "Number of uploads deduplicated against an existing record.",
	})

	// CacheHitsTotal / CacheMissesTotal track the collection cache.
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileregistry_cache_hits_total",
		Help: "Number of snapshot reads served from the collection cache.",
	})
	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileregistry_cache_misses_total",
		Help: "Number of snapshot reads that refreshed from the registry.",
	})

	// CASConflictsTotal counts versioned-swap conflicts, including ones
	// that later succeeded on retry.
	CASConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileregistry_cas_conflicts_total",
		Help: "Number of version conflicts observed by the swap protocol.",
	})

	// CASExhaustedTotal counts swaps that failed after all retries.
	CASExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileregistry_cas_exhausted_total",
		Help: "Number of swaps aborted after exhausting retries.",
	})

	// URLSignFailuresTotal counts short-lived URL issuances that fell back
	// to the canonical URL.
	URLSignFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileregistry_url_sign_failures_total",
		Help: "Number of short-lived URL requests degraded to the canonical URL.",
	})
)

// Server serves /metrics on its own listener, separate from the API port.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.log.Info("Metrics server listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("Metrics server failed", "err", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
