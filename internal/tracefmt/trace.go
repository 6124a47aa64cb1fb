// Package tracefmt defines the allocate/free/resize traces the mmheap
// facade tests replay, plus a helper that runs many independent
// trace instances concurrently to get more scenario coverage per test
// run. It does not implement any allocator semantics itself.
package tracefmt

import (
	"fmt"
)

// OpKind names one step of a trace.
type OpKind int

const (
	// OpAllocate requests Size bytes and records the result under Slot.
	OpAllocate OpKind = iota
	// OpFree releases the block currently recorded under Slot.
	OpFree
	// OpResize resizes the block under Slot to Size bytes and re-records
	// the result under the same Slot.
	OpResize
)

func (k OpKind) String() string {
	switch k {
	case OpAllocate:
		return "allocate"
	case OpFree:
		return "free"
	case OpResize:
		return "resize"
	default:
		return fmt.Sprintf("opkind(%d)", int(k))
	}
}

// Op is one step of a trace. Slot indexes into the replayer's table of
// live payload addresses; Size is only meaningful for OpAllocate and
// OpResize.
type Op struct {
	Kind OpKind
	Slot int
	Size uint32
}

// Trace is an ordered sequence of operations Replay (see replay.go)
// drives against one allocator instance.
type Trace []Op

// Allocate returns an OpAllocate step.
func Allocate(slot int, size uint32) Op { return Op{Kind: OpAllocate, Slot: slot, Size: size} }

// Free returns an OpFree step.
func Free(slot int) Op { return Op{Kind: OpFree, Slot: slot} }

// Resize returns an OpResize step.
func Resize(slot int, size uint32) Op { return Op{Kind: OpResize, Slot: slot, Size: size} }
