// Package uploader coordinates content ingestion and consumption-side URL
// resolution. The coordinator normalizes the content source, deduplicates
// against the registry by content hash, and only then touches the storage
// backend; the resolver issues short-lived access URLs with a canonical-URL
// fallback.
package uploader
