// Package heapcore implements §4.2-4.5 of the allocator spec: heap
// growth, the boundary-tag coalescer, the placement/split policy, and the
// public-shaped allocate/free/resize facade, all built on top of
// internal/region (the growable byte arena), internal/blocklayout (the
// boundary-tag primitives) and internal/freetree (the intrusive free
// index).
//
// A Heap is single-threaded and non-reentrant per §5: no method may be
// called concurrently with any other method on the same Heap.
package heapcore

import (
	"fmt"

	"github.com/heaplab-dev/mmheap/internal/blocklayout"
	"github.com/heaplab-dev/mmheap/internal/freetree"
	"github.com/heaplab-dev/mmheap/internal/region"
)

// Addr aliases blocklayout's address type.
type Addr = blocklayout.Addr

// NullAddr is the sentinel "no block" payload address, returned by
// Allocate/Resize on failure or on a zero-size request.
const NullAddr = blocklayout.NullAddr

// DefaultChunkSize is CHUNKSIZE from §4.5: the minimum amount the heap
// grows by when no free block satisfies a request.
const DefaultChunkSize = 4096

type options struct {
	chunkSize uint32
}

// Option configures a Heap at construction time.
type Option func(*options)

// WithChunkSize overrides DefaultChunkSize, mainly useful in tests that
// want to force extend_heap to run after only a couple of allocations.
func WithChunkSize(n uint32) Option {
	return func(o *options) { o.chunkSize = n }
}

// Heap is the allocator facade of §4.5, bound to one region.
type Heap struct {
	region    *region.Region
	root      Addr // free-tree root, NullAddr if the tree is empty
	listHead  Addr // prologue's payload pointer, constant after Init
	chunkSize uint32
}

// New constructs a Heap over r. Init must be called before any other
// method.
func New(r *region.Region, opts ...Option) *Heap {
	o := options{chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Heap{region: r, root: NullAddr, chunkSize: o.chunkSize}
}

// Init lays down the prologue and epilogue sentinels and grows the heap
// by one initial chunk of free space, per §6's init(). It is the only
// method that may be called on a Heap before any allocation.
func (h *Heap) Init() error {
	h.region.Init()

	// pad(4) + prologue header(4) + prologue footer(4) + epilogue
	// header(4) = 16 bytes, matching the original's PROLOGSIZE; this
	// puts the prologue's payload pointer (== its footer address, since
	// the prologue has no payload bytes of its own) on an 8-byte
	// boundary.
	base, err := h.region.Sbrk(4 * blocklayout.WordSize)
	if err != nil {
		return fmt.Errorf("heapcore: init prologue: %w", err)
	}
	buf := h.region.Bytes()
	blocklayout.WriteWord(buf, base, 0) // alignment pad

	listHead := base + 2*blocklayout.WordSize
	blocklayout.WriteTags(buf, listHead, blocklayout.OverheadSize, true)
	blocklayout.WriteWord(buf, listHead+blocklayout.WordSize, blocklayout.Pack(0, true)) // epilogue
	h.listHead = listHead
	h.root = NullAddr

	free, err := h.ExtendHeap(h.chunkSize / blocklayout.WordSize)
	if err != nil {
		return fmt.Errorf("heapcore: init extend: %w", err)
	}
	h.root = freetree.Insert(h.region.Bytes(), h.root, free)
	return nil
}

// ListHead returns the prologue's payload pointer, the fixed starting
// point for any whole-heap walk (see CheckHeap).
func (h *Heap) ListHead() Addr { return h.listHead }

// Root returns the free tree's current root, NullAddr if empty. Exposed
// for tests and the checker's shadow-index cross-validation.
func (h *Heap) Root() Addr { return h.root }

// Bytes returns the heap's live backing bytes. Callers must re-fetch
// after any call that may grow the region (Allocate, Resize,
// ExtendHeap).
func (h *Heap) Bytes() []byte { return h.region.Bytes() }

// adjustedSize computes asize per §4.5 step 2: header+footer overhead,
// rounded up to a double-word, with a 16-byte floor.
func adjustedSize(requested uint32) uint32 {
	asize := requested + blocklayout.OverheadSize
	if rem := asize % blocklayout.DWordSize; rem != 0 {
		asize += blocklayout.DWordSize - rem
	}
	if asize < blocklayout.MinBlockSize {
		asize = blocklayout.MinBlockSize
	}
	return asize
}

// Allocate implements §4.5 allocate(requested_bytes).
func (h *Heap) Allocate(requestedBytes uint32) Addr {
	if requestedBytes == 0 {
		return NullAddr
	}
	asize := adjustedSize(requestedBytes)

	if fit := freetree.Ceiling(h.region.Bytes(), h.root, asize); fit != NullAddr {
		h.root = freetree.Remove(h.region.Bytes(), h.root, fit)
		return h.place(fit, asize)
	}

	extendBytes := asize
	if h.chunkSize > extendBytes {
		extendBytes = h.chunkSize
	}
	block, err := h.ExtendHeap(extendBytes / blocklayout.WordSize)
	if err != nil {
		return NullAddr
	}
	return h.place(block, asize)
}

// Free implements §4.5 free(payload): stamp the block free, coalesce with
// any free physical neighbors, and index the (possibly merged) result.
func (h *Heap) Free(payload Addr) {
	buf := h.region.Bytes()
	size := blocklayout.SizeOf(buf, payload)
	blocklayout.WriteTags(buf, payload, size, false)

	merged := h.coalesce(payload)
	h.root = freetree.Insert(h.region.Bytes(), h.root, merged)
}
