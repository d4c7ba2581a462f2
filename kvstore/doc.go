// Package kvstore provides the backing key-value store for the registry:
// one field map per context, keyed by content hash, atomic at single-field
// granularity. The store is the single source of truth shared by every
// registry process.
//
// Implementations: HashiCorp Vault KV v2 (one secret per context, fields
// merged via JSON merge patch) and an in-memory store for tests and
// single-process deployments.
package kvstore
