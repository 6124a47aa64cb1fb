// Package mmheap implements a boundary-tag explicit allocator over a
// growable in-process byte arena: headers/footers encode size and
// allocation state, physical neighbors coalesce on free, and free
// blocks are indexed by an intrusive, in-place binary search tree keyed
// on size (node storage lives inside the free block's own payload
// bytes, so the allocator carries no metadata outside the region
// itself).
//
// An Allocator is single-threaded and non-reentrant: no method may be
// called concurrently with any other method on the same instance.
package mmheap

import (
	"io"

	"github.com/heaplab-dev/mmheap/internal/heapcore"
	"github.com/heaplab-dev/mmheap/internal/region"
)

// NullAddr is the sentinel payload address returned on allocation
// failure or a zero-size request.
const NullAddr = heapcore.NullAddr

// Violation describes one structural invariant failure found by
// CheckHeap.
type Violation = heapcore.Violation

// CorruptionReport pairs a set of violations with a digest of the
// region, for bug-report correlation.
type CorruptionReport = heapcore.CorruptionReport

// DiagnosticSink receives CheckHeap's verbose per-block trace.
type DiagnosticSink = heapcore.DiagnosticSink

type options struct {
	chunkSize uint32
	maxBytes  int64
}

// Option configures an Allocator at construction time.
type Option func(*options)

// WithChunkSize overrides the default heap-growth granularity
// (heapcore.DefaultChunkSize), mainly useful in tests that want
// ExtendHeap to trigger after only a couple of allocations.
func WithChunkSize(n uint32) Option {
	return func(o *options) { o.chunkSize = n }
}

// WithMaxBytes caps the total size the underlying region may grow to.
// Once reached, Allocate and Resize return NullAddr instead of growing
// further. Unbounded by default.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.maxBytes = n }
}

// Allocator is the public facade over internal/heapcore's engine and
// internal/region's byte arena.
type Allocator struct {
	region *region.Region
	heap   *heapcore.Heap
}

// New constructs an Allocator. Init must be called before any other
// method.
func New(opts ...Option) *Allocator {
	o := options{chunkSize: heapcore.DefaultChunkSize}
	for _, opt := range opts {
		opt(&o)
	}

	var regionOpts []region.Option
	if o.maxBytes > 0 {
		regionOpts = append(regionOpts, region.WithMaxBytes(o.maxBytes))
	}
	r := region.New(regionOpts...)

	return &Allocator{
		region: r,
		heap:   heapcore.New(r, heapcore.WithChunkSize(o.chunkSize)),
	}
}

// Init requests the prologue/epilogue bytes plus an initial chunk-sized
// free extent and seeds the free tree. It is the only method that may
// be called before any allocation.
func (a *Allocator) Init() error {
	return a.heap.Init()
}

// Allocate returns a payload address for a block of at least size
// bytes, or NullAddr if size is 0 or the region is exhausted.
func (a *Allocator) Allocate(size uint32) uint32 {
	return a.heap.Allocate(size)
}

// Free releases the block at addr. Double-free and invalid-address
// behavior are undefined, per this allocator's error-handling design.
func (a *Allocator) Free(addr uint32) {
	a.heap.Free(addr)
}

// Resize grows or shrinks the block at addr to size bytes, preserving
// min(old size, size) leading bytes, and returns the (possibly new)
// payload address, or NullAddr on exhaustion. A null addr behaves as
// Allocate.
func (a *Allocator) Resize(addr uint32, size uint32) uint32 {
	return a.heap.Resize(addr, size)
}

// CheckHeap walks every block from the prologue to the epilogue,
// asserting the allocator's structural invariants, and cross-validates
// the free tree against an independently built shadow index. It never
// mutates the heap. When verbose is true and sink is non-nil, each
// visited block is also written to sink.
func (a *Allocator) CheckHeap(verbose bool, sink DiagnosticSink) []Violation {
	return a.heap.CheckHeap(verbose, sink)
}

// NewCorruptionReport runs CheckHeap and, if any violation is found,
// returns a report pairing the violations with a digest of the region.
// Returns nil if the heap is valid.
func (a *Allocator) NewCorruptionReport() *CorruptionReport {
	return a.heap.NewCorruptionReport()
}

// Fingerprint returns a structural hash of the whole region (block
// sizes and allocated bits, not raw payload contents or tree shape),
// letting tests compare two heaps for the "byte-identical modulo
// region growth and tree shape" law without a raw byte comparison.
func (a *Allocator) Fingerprint() uint64 {
	return a.heap.Fingerprint()
}

// Bytes returns the allocator's live backing bytes. Callers must
// re-fetch after any call that may grow the region (Allocate, Resize).
func (a *Allocator) Bytes() []byte {
	return a.heap.Bytes()
}

// DumpRegion writes a compressed, checksummed snapshot of a's region to
// w, for offline corruption analysis.
func DumpRegion(w io.Writer, a *Allocator) error {
	return heapcore.DumpRegion(w, a.heap)
}

// RestoreRegion reverses DumpRegion, returning a fresh Allocator whose
// region and free tree match what was dumped.
func RestoreRegion(r io.Reader) (*Allocator, error) {
	h, err := heapcore.RestoreRegion(r)
	if err != nil {
		return nil, err
	}
	return &Allocator{heap: h}, nil
}
