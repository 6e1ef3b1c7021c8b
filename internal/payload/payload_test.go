package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceGetReturnsExactLength(t *testing.T) {
	s := NewSource()
	for _, n := range []int{0, 1, 1024, smallPoolCeiling, smallPoolCeiling + 1, 2 * 1024 * 1024} {
		buf := s.Get(n)
		require.Lenf(t, buf, n, "size %d", n)
	}
}

func TestSourceReleaseThenGetReusesPool(t *testing.T) {
	s := NewSource()
	buf := s.Get(4096)
	s.Release(buf)
	// Drawing again should not panic and should still yield the right size.
	buf2 := s.Get(4096)
	assert.Len(t, buf2, 4096)
}

func TestChunksBuildsRequestedCountAndSize(t *testing.T) {
	chunks := Chunks(5, 2048)
	require.Len(t, chunks, 5)
	for _, c := range chunks {
		assert.Len(t, c, 2048)
	}
}

func TestChunksAreNotAllIdentical(t *testing.T) {
	chunks := Chunks(2, 64)
	// Pseudo-random content: two independently filled buffers of
	// reasonable size should not collide.
	assert.NotEqual(t, chunks[0], chunks[1])
}
