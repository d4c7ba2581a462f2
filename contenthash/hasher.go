// Package contenthash computes the fast, non-cryptographic content digests
// the registry uses for deduplication. Digests are 64-bit xxhash values
// rendered as 16-character hex strings; they carry no integrity guarantee.
package contenthash

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/filecollect/file-registry-backend/common"
	"github.com/filecollect/file-registry-backend/interfaces"
)

// enginePool shares digest state across callers. Construction is memoized
// behind common.Lazy so concurrent first-users await one initialization.
var enginePool = common.NewLazy(func() (*sync.Pool, error) {
	return &sync.Pool{New: func() any { return xxhash.New() }}, nil
})

// Sum computes the content hash of a whole buffer.
func Sum(data []byte) interfaces.FileHash {
	var h interfaces.FileHash
	binary.BigEndian.PutUint64(h[:], xxhash.Sum64(data))
	return h
}

// Hasher computes a content hash incrementally from a stream.
type Hasher struct {
	digest *xxhash.Digest
	pool   *sync.Pool
}

// New returns a streaming hasher backed by the shared engine pool. Callers
// must Close it to return the digest state.
func New() (*Hasher, error) {
	pool, err := enginePool.Get()
	if err != nil {
		return nil, err
	}
	digest := pool.Get().(*xxhash.Digest)
	digest.Reset()
	return &Hasher{digest: digest, pool: pool}, nil
}

// Write feeds bytes into the hash. It never fails.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.digest.Write(p)
}

// Sum returns the hash of everything written so far.
func (h *Hasher) Sum() interfaces.FileHash {
	var out interfaces.FileHash
	binary.BigEndian.PutUint64(out[:], h.digest.Sum64())
	return out
}

// Close releases the digest state back to the shared pool.
func (h *Hasher) Close() {
	if h.digest != nil {
		h.pool.Put(h.digest)
		h.digest = nil
	}
}

// SumReader hashes an entire stream.
func SumReader(r io.Reader) (interfaces.FileHash, error) {
	h, err := New()
	if err != nil {
		return interfaces.FileHash{}, err
	}
	defer h.Close()

	if _, err := io.Copy(h, r); err != nil {
		return interfaces.FileHash{}, err
	}
	return h.Sum(), nil
}
