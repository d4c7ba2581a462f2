// Package common holds process-wide helpers: logger setup, version
// information, and the lazy singleton used for shared clients.
package common

// PackageName identifies this service in logs and metrics.
const PackageName = "file-registry-backend"

// Version is set at build time via -ldflags.
var Version = "dev"
