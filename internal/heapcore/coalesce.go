package heapcore

import (
	"github.com/heaplab-dev/mmheap/internal/blocklayout"
	"github.com/heaplab-dev/mmheap/internal/freetree"
)

// coalesce implements the four-case boundary-tag coalescer of §4.3 for a
// block that has just been freed. Neighbors are removed from the tree
// before their boundary tags are rewritten, since their tree key (size)
// is about to change. The returned block is free but not yet reinserted
// into the tree -- Free does that once coalesce returns.
func (h *Heap) coalesce(payload Addr) Addr {
	buf := h.region.Bytes()
	prev := blocklayout.PrevBlock(buf, payload)
	next := blocklayout.NextBlock(buf, payload)
	prevFree := !blocklayout.IsAllocated(buf, prev)
	nextFree := !blocklayout.IsAllocated(buf, next)
	size := blocklayout.SizeOf(buf, payload)

	switch {
	case !prevFree && !nextFree:
		return payload

	case !prevFree && nextFree:
		h.root = freetree.Remove(buf, h.root, next)
		size += blocklayout.SizeOf(buf, next)
		blocklayout.WriteTags(buf, payload, size, false)
		return payload

	case prevFree && !nextFree:
		h.root = freetree.Remove(buf, h.root, prev)
		size += blocklayout.SizeOf(buf, prev)
		blocklayout.WriteTags(buf, prev, size, false)
		return prev

	default: // both free
		h.root = freetree.Remove(buf, h.root, next)
		h.root = freetree.Remove(buf, h.root, prev)
		size += blocklayout.SizeOf(buf, prev) + blocklayout.SizeOf(buf, next)
		blocklayout.WriteTags(buf, prev, size, false)
		return prev
	}
}
