// Package storage provides the object storage backends sitting behind the
// file collection registry. Backends store content addressed by canonical
// URL; the content hash only determines the object key at upload time.
//
// Supported backends:
//   - S3 (or compatible) object storage, with presigned short-lived URLs
//   - local filesystem
//   - IPFS nodes
//   - in-memory (tests and development)
//
// A mirrored backend composes one authoritative primary with best-effort
// replicas. The factory creates backends from location URIs such as
// s3://bucket/prefix?region=eu-west-1 or file:///var/lib/files.
package storage
