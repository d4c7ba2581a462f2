// Package httpserver exposes the registry operations over HTTP.
//
// The server provides the file registration and lookup API under
// /api/contexts/{context_id}, plus the operational endpoints every
// deployment carries: /livez, /readyz, /drain, /undrain, and optional
// pprof under /debug. Prometheus metrics are served on a separate
// listener.
//
// Contexts with encrypted metadata pass their passphrase in the
// X-Registry-Passphrase header; the key never leaves the request scope.
package httpserver
