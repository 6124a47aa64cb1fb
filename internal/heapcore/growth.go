package heapcore

import (
	"fmt"

	"github.com/heaplab-dev/mmheap/internal/blocklayout"
	"github.com/heaplab-dev/mmheap/internal/freetree"
)

// ExtendHeap implements §4.2: grow the region by wordCount words (rounded
// up to an even count to preserve double-word alignment), turn the old
// epilogue slot into the header of a new free block, and stamp a fresh
// epilogue past it. If the block immediately preceding the new extent is
// free, it is merged in before returning -- the caller decides whether to
// insert the (possibly merged) result into the free tree.
func (h *Heap) ExtendHeap(wordCount uint32) (Addr, error) {
	if wordCount%2 != 0 {
		wordCount++
	}
	size := wordCount * blocklayout.WordSize

	extentBase, err := h.region.Sbrk(size)
	if err != nil {
		return NullAddr, fmt.Errorf("heapcore: extend_heap: %w", err)
	}

	buf := h.region.Bytes()
	// The new block's payload pointer lands exactly at the old break: its
	// header reuses the 4 bytes that used to hold the old epilogue word
	// (just below the break), and its payload/footer extend into the
	// newly sbrk'd bytes.
	payload := extentBase
	blocklayout.WriteTags(buf, payload, size, false)
	// New epilogue sits one word past the new block's footer, i.e. at the
	// very end of the newly sbrk'd extent.
	blocklayout.WriteWord(buf, payload+size-blocklayout.WordSize, blocklayout.Pack(0, true))

	return h.coalesceWithPrevOnGrowth(payload), nil
}

// coalesceWithPrevOnGrowth implements the narrower, prev-only coalescing
// extend_heap performs (§4.2): a freshly grown extent never has a free
// block after it (it was just stamped with a fresh epilogue), so only the
// previous physical neighbor can be free.
func (h *Heap) coalesceWithPrevOnGrowth(payload Addr) Addr {
	buf := h.region.Bytes()
	prev := blocklayout.PrevBlock(buf, payload)
	if blocklayout.IsAllocated(buf, prev) {
		return payload
	}

	h.root = freetree.Remove(buf, h.root, prev)
	size := blocklayout.SizeOf(buf, prev) + blocklayout.SizeOf(buf, payload)
	blocklayout.WriteTags(buf, prev, size, false)
	return prev
}
