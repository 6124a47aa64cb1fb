package heapcore

import (
	"github.com/heaplab-dev/mmheap/internal/blocklayout"
	"github.com/heaplab-dev/mmheap/internal/freetree"
)

// place implements §4.5's placement/split policy: absorb block whole if
// the leftover after carving out asize bytes would be too small to stand
// on its own, otherwise split and reinsert the free remainder.
//
// block must not be in the free tree when place is called (Allocate
// removes it via Ceiling+Remove before calling place, and ExtendHeap's
// result was never inserted in the first place).
func (h *Heap) place(block Addr, asize uint32) Addr {
	buf := h.region.Bytes()
	blockSize := blocklayout.SizeOf(buf, block)
	remainder := blockSize - asize

	if remainder < blocklayout.MinBlockSize {
		blocklayout.WriteTags(buf, block, blockSize, true)
		return block
	}

	if h.allocateHighEnd(buf, block, asize, remainder) {
		// Free remainder takes the low end, adjacent to block's previous
		// physical neighbor; the allocated chunk takes the high end.
		blocklayout.WriteTags(buf, block, remainder, false)
		h.root = freetree.Insert(h.region.Bytes(), h.root, block)
		allocated := block + remainder
		blocklayout.WriteTags(h.region.Bytes(), allocated, asize, true)
		return allocated
	}

	// Free remainder takes the high end, adjacent to block's next
	// physical neighbor; the allocated chunk takes the low end.
	blocklayout.WriteTags(buf, block, asize, true)
	split := block + asize
	blocklayout.WriteTags(buf, split, remainder, false)
	h.root = freetree.Insert(h.region.Bytes(), h.root, split)
	return block
}

// allocateHighEnd decides which end of block the allocated chunk should
// take, per the §4.5/§9 heuristic: let avg be the average size of block's
// two physical neighbors (prologue/epilogue read as size 8/0, which falls
// out for free from blocklayout.SizeOf without any special-casing). If
// asize exceeds avg, place the allocated chunk adjacent to the larger
// neighbor; otherwise adjacent to the smaller one. This is a
// fragmentation heuristic, not a correctness requirement -- any answer
// here keeps the allocator correct.
func (h *Heap) allocateHighEnd(buf []byte, block Addr, asize, remainder uint32) bool {
	prevSize := blocklayout.SizeOf(buf, blocklayout.PrevBlock(buf, block))
	nextSize := blocklayout.SizeOf(buf, blocklayout.NextBlock(buf, block))
	avg := (prevSize + nextSize) / 2

	largerIsNext := nextSize > prevSize
	wantsLarger := asize > avg

	// Adjacent-to-next means the allocated chunk takes the high end of
	// block; adjacent-to-prev means it takes the low end.
	return largerIsNext == wantsLarger
}
