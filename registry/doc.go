// Package registry implements the per-context file collection registry: a
// hash-keyed metadata store over the backing key-value field map, with
// scoped visibility, optional at-rest encryption of sensitive fields, a
// short-TTL snapshot cache, and a versioned-swap protocol for
// collection-wide mutations.
//
// Single-record operations are whole-record atomic writes without a version
// guard; the scope-set merge is commutative and idempotent, so concurrent
// writers to the same hash converge. Cross-record consistency is only
// available through RegisterBatch, which runs under the optimistic
// versioned swap.
package registry
