package heapcore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heaplab-dev/mmheap/internal/blocklayout"
)

func TestDumpRestoreRegionRoundTrips(t *testing.T) {
	t.Parallel()
	h := newHeap(t, WithChunkSize(256))

	a := h.Allocate(24)
	b := h.Allocate(48)
	require.NotEqual(t, NullAddr, a)
	require.NotEqual(t, NullAddr, b)
	h.Free(a)

	var buf bytes.Buffer
	require.NoError(t, DumpRegion(&buf, h))

	restored, err := RestoreRegion(&buf)
	require.NoError(t, err)

	assert.Equal(t, h.Bytes(), restored.Bytes())
	assert.Equal(t, h.ListHead(), restored.ListHead())
	assert.Empty(t, restored.CheckHeap(false, nil))
	assert.Equal(t, h.Fingerprint(), restored.Fingerprint())
}

func TestRestoreRegionRejectsCorruptPayload(t *testing.T) {
	t.Parallel()
	h := newHeap(t)
	h.Allocate(24)

	var buf bytes.Buffer
	require.NoError(t, DumpRegion(&buf, h))

	corrupted := buf.Bytes()
	// Flip a byte inside the compressed payload, past the 48-byte header.
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err := RestoreRegion(bytes.NewReader(corrupted))
	assert.Error(t, err)
}

func TestRestoreRegionRejectsBadMagic(t *testing.T) {
	t.Parallel()
	_, err := RestoreRegion(bytes.NewReader(make([]byte, 64)))
	assert.Error(t, err)
}

func TestRestoredHeapRemainsUsable(t *testing.T) {
	t.Parallel()
	h := newHeap(t, WithChunkSize(256))
	a := h.Allocate(24)
	require.NotEqual(t, NullAddr, a)
	h.Free(a)

	var buf bytes.Buffer
	require.NoError(t, DumpRegion(&buf, h))
	restored, err := RestoreRegion(&buf)
	require.NoError(t, err)

	b := restored.Allocate(16)
	require.NotEqual(t, NullAddr, b)
	assert.True(t, blocklayout.IsAllocated(restored.Bytes(), b))
	assert.Empty(t, restored.CheckHeap(false, nil))
}
