// Package interfaces defines the core domain types and component contracts
// shared across the file collection registry: content hashes, file records
// with scoped visibility, the storage backend and key-value store seams, and
// the sentinel error taxonomy.
//
// The package is intentionally dependency-free so every other package can
// import it without cycles.
package interfaces
