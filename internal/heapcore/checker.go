package heapcore

import (
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	sha256simd "github.com/minio/sha256-simd"

	"github.com/heaplab-dev/mmheap/internal/blocklayout"
	"github.com/heaplab-dev/mmheap/internal/freetree"
)

// DiagnosticSink receives checkheap's verbose per-block trace. Any
// io.Writer satisfies it; a nil sink disables printing regardless of
// verbose.
type DiagnosticSink = io.Writer

// Violation describes one structural invariant failure found by
// CheckHeap. Addr is the payload address of the offending block, or
// NullAddr for violations that aren't block-local (a tree/region
// accounting mismatch).
type Violation struct {
	Addr Addr
	Msg  string
}

func (v Violation) String() string {
	if v.Addr == NullAddr {
		return v.Msg
	}
	return fmt.Sprintf("block@%d: %s", v.Addr, v.Msg)
}

// CorruptionReport bundles a set of violations with a SHA-256 digest of
// the whole region, a stable identifier two reports from the same
// underlying layout can be compared by.
type CorruptionReport struct {
	Violations []Violation
	Digest     [32]byte
}

// CheckHeap implements §4.6: walk every physical block from the prologue
// to the epilogue, asserting the structural invariants of §3/§8, then
// cross-validate the free tree against an independent btree-backed
// shadow index built from the same walk. It never mutates the heap.
//
// When verbose is true, each visited block is also written to sink in
// address order; sink may be nil, in which case verbose printing is
// silently skipped.
func (h *Heap) CheckHeap(verbose bool, sink DiagnosticSink) []Violation {
	buf := h.region.Bytes()
	var violations []Violation

	report := func(addr Addr, format string, args ...any) {
		violations = append(violations, Violation{Addr: addr, Msg: fmt.Sprintf(format, args...)})
	}

	addr := h.listHead
	if blocklayout.SizeOf(buf, addr) != blocklayout.OverheadSize {
		report(addr, "prologue size is %d, want %d", blocklayout.SizeOf(buf, addr), blocklayout.OverheadSize)
	}
	if !blocklayout.IsAllocated(buf, addr) {
		report(addr, "prologue is not marked allocated")
	}

	var walked []Addr
	totalSize := uint32(0)
	for {
		size := blocklayout.SizeOf(buf, addr)
		if size == 0 {
			if !blocklayout.IsAllocated(buf, addr) {
				report(addr, "epilogue is not marked allocated")
			}
			break
		}

		header := blocklayout.ReadWord(buf, blocklayout.HeaderAddr(addr))
		footer := blocklayout.ReadWord(buf, blocklayout.FooterAddr(buf, addr))
		if header != footer {
			report(addr, "header %#x != footer %#x", header, footer)
		}
		if size%blocklayout.DWordSize != 0 {
			report(addr, "size %d is not a multiple of %d", size, blocklayout.DWordSize)
		}
		if size < blocklayout.MinBlockSize && addr != h.listHead {
			report(addr, "size %d is below the %d-byte floor", size, blocklayout.MinBlockSize)
		}
		if addr%blocklayout.DWordSize != 0 {
			report(addr, "payload address is not %d-aligned", blocklayout.DWordSize)
		}

		if verbose && sink != nil {
			state := "allocated"
			if !blocklayout.IsAllocated(buf, addr) {
				state = "free"
			}
			fmt.Fprintf(sink, "block@%d size=%d %s\n", addr, size, state)
		}

		walked = append(walked, addr)
		totalSize += size
		addr = blocklayout.NextBlock(buf, addr)
	}

	for i := 1; i < len(walked); i++ {
		a, b := walked[i-1], walked[i]
		if !blocklayout.IsAllocated(buf, a) && !blocklayout.IsAllocated(buf, b) {
			report(b, "adjacent to free block@%d without coalescing", a)
		}
	}

	shadow := freetree.NewShadowFromTree(buf, h.root)
	walkShadow := freetree.NewShadowIndex()
	freeCount := 0
	for _, a := range walked {
		if !blocklayout.IsAllocated(buf, a) {
			freeCount++
			walkShadow.Add(blocklayout.SizeOf(buf, a), a)
		}
	}
	if freeCount != shadow.Len() {
		report(NullAddr, "tree holds %d free blocks, walk found %d", shadow.Len(), freeCount)
	}
	onlyInWalk, onlyInTree := freetree.Diff(walkShadow, shadow)
	for _, rec := range onlyInWalk {
		report(rec.Addr, "free but absent from the tree (size %d)", rec.Size)
	}
	for _, rec := range onlyInTree {
		report(rec.Addr, "present in the tree but not free in the walk (size %d)", rec.Size)
	}

	// §8's region-accounting invariant, restated in terms of listHead: the
	// sum of every block's size strictly between the prologue and the
	// epilogue must equal brk minus the prologue (which ends WordSize
	// bytes past listHead) minus the epilogue's own word. totalSize
	// includes the prologue's own OverheadSize, so it is subtracted here
	// rather than folded into the walk.
	realTotal := totalSize - blocklayout.OverheadSize
	brk := h.region.Brk()
	want := brk - h.listHead - 2*blocklayout.WordSize
	if realTotal != want {
		report(NullAddr, "region accounting mismatch: walked blocks total %d, want %d", realTotal, want)
	}

	return violations
}

// Fingerprint hashes the block-size/allocated-bit sequence of the whole
// region with xxhash, letting tests compare two heaps for structural
// equality (§8's "byte-identical modulo region growth and tree shape"
// law) without a raw byte comparison that would be sensitive to
// unrelated free-tree shape differences.
func (h *Heap) Fingerprint() uint64 {
	buf := h.region.Bytes()
	hasher := xxhash.New()
	addr := h.listHead
	for {
		size := blocklayout.SizeOf(buf, addr)
		var tag [8]byte
		blocklayout.WriteWord(tag[:4], 0, size)
		if blocklayout.IsAllocated(buf, addr) {
			tag[4] = 1
		}
		hasher.Write(tag[:])
		if size == 0 {
			break
		}
		addr = blocklayout.NextBlock(buf, addr)
	}
	return hasher.Sum64()
}

// NewCorruptionReport runs CheckHeap and, if any violation was found,
// pairs it with a SHA-256 digest of the region for bug-report
// correlation. Returns nil if the heap is valid.
func (h *Heap) NewCorruptionReport() *CorruptionReport {
	violations := h.CheckHeap(false, nil)
	if len(violations) == 0 {
		return nil
	}
	return &CorruptionReport{
		Violations: violations,
		Digest:     sha256simd.Sum256(h.region.Bytes()),
	}
}
