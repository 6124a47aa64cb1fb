package heapcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heaplab-dev/mmheap/internal/blocklayout"
)

func fillPayload(buf []byte, payload Addr, n uint32, b byte) {
	for i := uint32(0); i < n; i++ {
		buf[payload+i] = b
	}
}

// §8 law: resize(p, size_of(p)) preserves a pointer whose readable
// contents equal the original payload.
func TestResizeSamePayloadBytesPreserved(t *testing.T) {
	t.Parallel()
	h := newHeap(t)

	a := h.Allocate(100)
	require.NotEqual(t, NullAddr, a)
	fillPayload(h.Bytes(), a, 100, 0xAB)

	b := h.Resize(a, 100)
	require.NotEqual(t, NullAddr, b)

	buf := h.Bytes()
	for i := uint32(0); i < 100; i++ {
		assert.Equal(t, byte(0xAB), buf[b+i], "byte %d", i)
	}
}

// scenario 5: growing into trailing free space keeps the same payload
// address and preserves the original bytes. Using a 64-byte chunk and
// requesting exactly 56 bytes (asize 64) makes the very first
// allocation absorb the whole initial free extent whole (zero
// remainder), so its next physical neighbor is the epilogue directly.
func TestResizeGrowsInPlaceWhenNextIsEpilogue(t *testing.T) {
	t.Parallel()
	h := newHeap(t, WithChunkSize(64))

	a := h.Allocate(56)
	require.NotEqual(t, NullAddr, a)
	fillPayload(h.Bytes(), a, 56, 0xAB)

	buf := h.Bytes()
	require.Equal(t, uint32(0), blocklayout.SizeOf(buf, blocklayout.NextBlock(buf, a)))

	b := h.Resize(a, 100)
	require.NotEqual(t, NullAddr, b)
	assert.Equal(t, a, b)

	buf = h.Bytes()
	for i := uint32(0); i < 56; i++ {
		assert.Equal(t, byte(0xAB), buf[b+i], "byte %d", i)
	}
	assert.GreaterOrEqual(t, blocklayout.SizeOf(buf, b), uint32(100)+blocklayout.OverheadSize)
}

// §4.5's absorb-vs-split guard applies at the epilogue branch too: an
// 8-byte leftover is below the 16-byte block floor and must be absorbed
// into the grown block rather than spliced off as a "free" block, which
// would write its tree-node child pointers past its own footer and into
// the epilogue's header.
func TestResizeAtEpilogueAbsorbsSubMinimumRemainder(t *testing.T) {
	t.Parallel()
	h := newHeap(t, WithChunkSize(64))

	a := h.Allocate(56) // absorbs the whole 64-byte initial extent
	require.NotEqual(t, NullAddr, a)
	buf := h.Bytes()
	require.Equal(t, uint32(0), blocklayout.SizeOf(buf, blocklayout.NextBlock(buf, a)))

	b := h.Resize(a, 48) // asize=56, blockSize=64, remainder=8
	require.Equal(t, a, b)

	buf = h.Bytes()
	assert.Equal(t, uint32(64), blocklayout.SizeOf(buf, b))
	assert.True(t, blocklayout.IsAllocated(buf, b))
	assert.Equal(t, uint32(0), blocklayout.SizeOf(buf, blocklayout.NextBlock(buf, b)))
	assert.True(t, blocklayout.IsAllocated(buf, blocklayout.NextBlock(buf, b)))
	assert.Empty(t, h.CheckHeap(false, nil))
}

// Same guard in the grow-through-a-free-next-neighbor branch: tuned so
// blockSize + mergedNextSize - asize lands on exactly 8.
func TestResizeGrowThroughNextAbsorbsSubMinimumRemainder(t *testing.T) {
	t.Parallel()
	h := newHeap(t, WithChunkSize(128))

	a := h.Allocate(24) // asize=32, leaves a 96-byte free block before the epilogue
	require.NotEqual(t, NullAddr, a)

	buf := h.Bytes()
	next := blocklayout.NextBlock(buf, a)
	require.False(t, blocklayout.IsAllocated(buf, next))
	require.Equal(t, uint32(0), blocklayout.SizeOf(buf, blocklayout.NextBlock(buf, next)))

	b := h.Resize(a, 240) // asize=248: needed=120, extendBy=128, totalSize=256, remainder=8
	require.Equal(t, a, b)

	buf = h.Bytes()
	assert.Equal(t, uint32(256), blocklayout.SizeOf(buf, b))
	assert.True(t, blocklayout.IsAllocated(buf, b))
	assert.Equal(t, uint32(0), blocklayout.SizeOf(buf, blocklayout.NextBlock(buf, b)))
	assert.True(t, blocklayout.IsAllocated(buf, blocklayout.NextBlock(buf, b)))
	assert.Empty(t, h.CheckHeap(false, nil))
}

func TestResizeShrinkSplitsOffFreeRemainder(t *testing.T) {
	t.Parallel()
	h := newHeap(t)

	a := h.Allocate(200)
	require.NotEqual(t, NullAddr, a)
	originalSize := blocklayout.SizeOf(h.Bytes(), a)

	b := h.Resize(a, 16)
	require.Equal(t, a, b)

	buf := h.Bytes()
	newSize := blocklayout.SizeOf(buf, b)
	assert.Less(t, newSize, originalSize)
	assert.True(t, blocklayout.IsAllocated(buf, b))
}

// scenario: next is free but too small on its own, and the block after
// next is the epilogue -- Resize must grow the heap and merge payload,
// next, and the new extent into one allocated block without corrupting
// the free tree (next must be found and removed exactly once, by
// ExtendHeap's own prev-coalesce step).
func TestResizeGrowsThroughFreeNextNeighbor(t *testing.T) {
	t.Parallel()
	h := newHeap(t, WithChunkSize(128))

	a := h.Allocate(24)
	require.NotEqual(t, NullAddr, a)
	fillPayload(h.Bytes(), a, 24, 0xEF)

	buf := h.Bytes()
	next := blocklayout.NextBlock(buf, a)
	require.False(t, blocklayout.IsAllocated(buf, next))
	require.Equal(t, uint32(0), blocklayout.SizeOf(buf, blocklayout.NextBlock(buf, next)))

	b := h.Resize(a, 300)
	require.NotEqual(t, NullAddr, b)
	assert.Equal(t, a, b)

	buf = h.Bytes()
	for i := uint32(0); i < 24; i++ {
		assert.Equal(t, byte(0xEF), buf[b+i], "byte %d", i)
	}
	assert.GreaterOrEqual(t, blocklayout.SizeOf(buf, b), uint32(300)+blocklayout.OverheadSize)

	assert.Empty(t, h.CheckHeap(false, nil))
}

func TestResizeNullBehavesAsAllocate(t *testing.T) {
	t.Parallel()
	h := newHeap(t)

	a := h.Resize(NullAddr, 32)
	require.NotEqual(t, NullAddr, a)
	assert.True(t, blocklayout.IsAllocated(h.Bytes(), a))
}

// resize(p, n) preserves min(old_size, n) leading bytes when it has to
// fall back to allocate-copy-free (next neighbor allocated and not the
// epilogue).
func TestResizeFallsBackToCopyWhenNextIsAllocated(t *testing.T) {
	t.Parallel()
	h := newHeap(t)

	a := h.Allocate(24)
	keepAlive := h.Allocate(24) // occupies a's next physical neighbor
	require.NotEqual(t, NullAddr, a)
	require.NotEqual(t, NullAddr, keepAlive)
	fillPayload(h.Bytes(), a, 24, 0xCD)

	buf := h.Bytes()
	require.Equal(t, keepAlive, blocklayout.NextBlock(buf, a))
	require.True(t, blocklayout.IsAllocated(buf, keepAlive))

	b := h.Resize(a, 400)
	require.NotEqual(t, NullAddr, b)
	assert.NotEqual(t, a, b)

	buf = h.Bytes()
	for i := uint32(0); i < 24; i++ {
		assert.Equal(t, byte(0xCD), buf[b+i], "byte %d", i)
	}
	// keepAlive must still be intact and untouched by the copy/free.
	assert.True(t, blocklayout.IsAllocated(buf, keepAlive))
}
