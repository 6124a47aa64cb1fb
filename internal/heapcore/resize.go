package heapcore

import (
	"github.com/heaplab-dev/mmheap/internal/blocklayout"
	"github.com/heaplab-dev/mmheap/internal/freetree"
)

// Resize implements §4.5 resize(payload, new_bytes): try to grow in
// place before falling back to allocate-copy-free. A null payload behaves
// as Allocate (§6); shrinking is handled by the same split branch as
// growing, since asize may end up <= the current block size.
func (h *Heap) Resize(payload Addr, newBytes uint32) Addr {
	if payload == NullAddr {
		return h.Allocate(newBytes)
	}

	asize := adjustedSize(newBytes)
	if newBytes == 0 {
		// §9 open question, resolved here: allocate-minimum rather than
		// free, so a caller that calls Resize(p, 0) keeps a live block
		// instead of silently losing p.
		asize = blocklayout.MinBlockSize
	}

	buf := h.region.Bytes()
	blockSize := blocklayout.SizeOf(buf, payload)
	next := blocklayout.NextBlock(buf, payload)
	nextSize := blocklayout.SizeOf(buf, next)

	switch {
	case nextSize == 0: // next is the epilogue
		return h.resizeAtEpilogue(payload, blockSize, asize)

	case !blocklayout.IsAllocated(buf, next) && blockSize+nextSize >= asize:
		return h.resizeMergeNext(payload, next, blockSize+nextSize, asize)

	case !blocklayout.IsAllocated(buf, next) &&
		blocklayout.SizeOf(buf, blocklayout.NextBlock(buf, next)) == 0:
		// next is free but insufficient, and the block after next is the
		// epilogue: grow the heap and merge through.
		return h.resizeGrowThroughNext(payload, blockSize, next, nextSize, asize)

	default:
		return h.resizeByCopy(payload, blockSize, newBytes)
	}
}

// resizeAtEpilogue implements §4.5's first branch: extend the heap, then
// split the original block (now grown) into an allocated asize-byte
// prefix and a free remainder.
//
// §9 flags that the original source discards extend_heap's return value
// here and assumes the extension is contiguous with the resized block.
// It always is in this design (extend_heap only ever grows at the high
// end, immediately after the block whose next neighbor was the
// epilogue), and this implementation relies on it explicitly: it merges
// the block ExtendHeap returns, taking that block's own size (which can
// exceed the requested extension, since ExtendHeap rounds the word count
// up to an even number) rather than the requested byte count.
func (h *Heap) resizeAtEpilogue(payload Addr, blockSize, asize uint32) Addr {
	var extendBy uint32
	if asize > blockSize {
		extendBy = asize - blockSize
		if extendBy < h.chunkSize {
			extendBy = h.chunkSize
		}
	}

	// payload is allocated, so ExtendHeap's coalesceWithPrevOnGrowth step
	// leaves it untouched (IsAllocated(prev) holds, so it returns early)
	// and returns the new extent on its own; payload itself is still
	// where the grown block starts.
	grown := payload
	totalSize := blockSize
	if extendBy > 0 {
		extended, err := h.ExtendHeap(extendBy / blocklayout.WordSize)
		if err != nil {
			return NullAddr
		}
		totalSize += blocklayout.SizeOf(h.region.Bytes(), extended)
	}

	buf := h.region.Bytes()
	remainder := totalSize - asize

	if remainder < blocklayout.MinBlockSize {
		blocklayout.WriteTags(buf, grown, totalSize, true)
		return grown
	}
	blocklayout.WriteTags(buf, grown, asize, true)
	split := grown + asize
	blocklayout.WriteTags(buf, split, remainder, false)
	h.root = freetree.Insert(h.region.Bytes(), h.root, split)
	return grown
}

// resizeMergeNext implements §4.5's second branch: next is free and the
// combined size already covers asize.
func (h *Heap) resizeMergeNext(payload, next, combined, asize uint32) Addr {
	buf := h.region.Bytes()
	h.root = freetree.Remove(buf, h.root, next)

	leftover := combined - asize
	if leftover < blocklayout.MinBlockSize {
		blocklayout.WriteTags(buf, payload, combined, true)
		return payload
	}
	blocklayout.WriteTags(buf, payload, asize, true)
	split := payload + asize
	blocklayout.WriteTags(buf, split, leftover, false)
	h.root = freetree.Insert(h.region.Bytes(), h.root, split)
	return payload
}

// resizeGrowThroughNext implements §4.5's third branch: next is free but
// insufficient on its own, and the block after next is the epilogue, so
// the heap is grown and the three pieces (payload, next, new extent) are
// merged and re-split.
func (h *Heap) resizeGrowThroughNext(payload, blockSize, next, nextSize, asize uint32) Addr {
	needed := asize - (blockSize + nextSize)
	extendBy := needed
	if extendBy < h.chunkSize {
		extendBy = h.chunkSize
	}

	// next stays in the tree until ExtendHeap's own
	// coalesceWithPrevOnGrowth step removes and merges it -- it finds
	// next by walking physically backwards from the new extent, the same
	// way every other growth call discovers its free predecessor.
	// Removing it here too would hand Remove an address it can no longer
	// find, corrupting the tree.
	extended, err := h.ExtendHeap(extendBy / blocklayout.WordSize)
	if err != nil {
		return NullAddr
	}
	buf := h.region.Bytes()
	totalSize := blockSize + blocklayout.SizeOf(buf, extended)
	remainder := totalSize - asize

	if remainder < blocklayout.MinBlockSize {
		blocklayout.WriteTags(buf, payload, totalSize, true)
		return payload
	}
	blocklayout.WriteTags(buf, payload, asize, true)
	split := payload + asize
	blocklayout.WriteTags(buf, split, remainder, false)
	h.root = freetree.Insert(h.region.Bytes(), h.root, split)
	return payload
}

// resizeByCopy implements §4.5's fallback: allocate a fresh block, copy
// the preserved prefix, free the original.
func (h *Heap) resizeByCopy(payload Addr, blockSize, newBytes uint32) Addr {
	allocBytes := newBytes
	if allocBytes == 0 {
		// Resize(p, 0) moves p to a minimum-sized block (see Resize);
		// Allocate(1) yields exactly that, where Allocate(0) would not.
		allocBytes = 1
	}
	newPayload := h.Allocate(allocBytes)
	if newPayload == NullAddr {
		return NullAddr
	}
	buf := h.region.Bytes() // Allocate may have grown the region
	oldPayloadBytes := blockSize - blocklayout.OverheadSize
	copyLen := oldPayloadBytes
	if newBytes < copyLen {
		copyLen = newBytes
	}
	copy(buf[newPayload:newPayload+copyLen], buf[payload:payload+copyLen])
	h.Free(payload)
	return newPayload
}
