// Package payload implements the Payload Source (C2 in SPEC_FULL.md),
// which spec.md marks as an external collaborator ("assumed to provide an
// efficient pool-backed byte buffer source"). No pack library exists for
// "pseudo-random pool-backed byte buffers" (see DESIGN.md) so this
// component is implemented directly on the standard library: math/rand
// for content (its distribution is irrelevant — the server only counts
// bytes) and sync.Pool so repeated small-size requests reuse buffers
// instead of allocating, matching the "pool-backed" requirement.
package payload

import (
	"math/rand"
	"sync"
)

// smallPoolCeiling is the size below which buffers are pooled. Larger
// one-off buffers (e.g. the multi-MiB warmup probe payloads) are
// allocated directly; pooling them would keep megabytes of idle memory
// resident between rare uses.
const smallPoolCeiling = 256 * 1024

// Source produces byte buffers for upload bodies and is safe for
// concurrent use by multiple stream workers.
type Source struct {
	pool sync.Pool
}

// NewSource returns a ready-to-use Source.
func NewSource() *Source {
	return &Source{
		pool: sync.Pool{New: func() any { return make([]byte, 0, smallPoolCeiling) }},
	}
}

// Get returns a buffer of exactly n bytes filled with pseudo-random
// content. Buffers at or under smallPoolCeiling are drawn from the pool;
// larger buffers are allocated fresh (see Release).
func (s *Source) Get(n int) []byte {
	if n <= smallPoolCeiling {
		buf := s.pool.Get().([]byte)
		if cap(buf) < n {
			buf = make([]byte, n)
		} else {
			buf = buf[:n]
		}
		fill(buf)
		return buf
	}
	buf := make([]byte, n)
	fill(buf)
	return buf
}

// Release returns a small buffer to the pool. Calling it with a buffer
// larger than smallPoolCeiling is a no-op — those were never pool-backed.
func (s *Source) Release(buf []byte) {
	if cap(buf) <= smallPoolCeiling {
		s.pool.Put(buf[:0]) //nolint:staticcheck // intentional zero-length reuse
	}
}

// Chunks builds a cyclic list of n precomputed chunks of the given size,
// for the upload worker's "supplied cyclic list of precomputed chunks"
// (spec.md §4.2). Chunks are not pool-backed: they live for the duration
// of the upload worker and are reused many times, so pooling them would
// only add churn.
func Chunks(n, size int) [][]byte {
	chunks := make([][]byte, n)
	for i := range chunks {
		buf := make([]byte, size)
		fill(buf)
		chunks[i] = buf
	}
	return chunks
}

func fill(buf []byte) {
	// Content is irrelevant to the measurement (servers only count
	// bytes) so a fast non-cryptographic source is appropriate; chunked
	// in 8-byte strides to stay out of the "no long CPU sections"
	// concern for sizes above a few hundred KiB (spec.md §5).
	r := rand.New(rand.NewSource(rand.Int63())) //nolint:gosec // content is never security sensitive
	for i := 0; i < len(buf); i += 8 {
		v := r.Uint64()
		end := i + 8
		if end > len(buf) {
			end = len(buf)
		}
		for j := i; j < end; j++ {
			buf[j] = byte(v)
			v >>= 8
		}
	}
}
