package freetree

import "github.com/google/btree"

// FreeBlockRecord identifies one free block by its size and address. It is
// the key type for the shadow index below.
type FreeBlockRecord struct {
	Size uint32
	Addr Addr
}

func recordLess(a, b FreeBlockRecord) bool {
	if a.Size != b.Size {
		return a.Size < b.Size
	}
	return a.Addr < b.Addr
}

// ShadowIndex is an independent, ordinary (non-intrusive) index of free
// blocks built with google/btree. §4.4's tree deliberately keeps its node
// storage inside the free blocks themselves to avoid any out-of-region
// metadata -- a generic btree.BTreeG can't serve as that index without
// breaking that invariant. What it *can* do is stand next to the real
// tree as a second, independently-built source of truth the heap checker
// cross-validates against: build one shadow index by walking the
// intrusive tree (NewShadowFromTree) and another by walking the region's
// physical blocks (callers fill it block-by-block via Add), then Diff
// them. Any mismatch means either a free block is missing from the tree
// or an allocated block leaked into it -- failure modes §3's tree
// invariants rule out. Add keeps one record per (size, addr) pair, so a
// block reached twice in the tree is recorded once and does not show up
// in Diff or Len.
type ShadowIndex struct {
	tree *btree.BTreeG[FreeBlockRecord]
}

// NewShadowIndex returns an empty ShadowIndex.
func NewShadowIndex() *ShadowIndex {
	return &ShadowIndex{tree: btree.NewG(32, recordLess)}
}

// NewShadowFromTree builds a ShadowIndex by walking the intrusive free
// tree rooted at root.
func NewShadowFromTree(buf []byte, root Addr) *ShadowIndex {
	s := NewShadowIndex()
	Ascend(buf, root, func(addr Addr, size uint32) bool {
		s.Add(size, addr)
		return true
	})
	return s
}

// Add records one free block.
func (s *ShadowIndex) Add(size uint32, addr Addr) {
	s.tree.ReplaceOrInsert(FreeBlockRecord{Size: size, Addr: addr})
}

// Len returns the number of free blocks recorded.
func (s *ShadowIndex) Len() int {
	return s.tree.Len()
}

// Diff returns the records present in a but not b, and vice versa. Two
// ShadowIndexes built correctly from a consistent heap (one from the
// intrusive tree, one from a physical block walk) must Diff to two empty
// slices.
func Diff(a, b *ShadowIndex) (onlyInA, onlyInB []FreeBlockRecord) {
	a.tree.Ascend(func(item FreeBlockRecord) bool {
		if !b.tree.Has(item) {
			onlyInA = append(onlyInA, item)
		}
		return true
	})
	b.tree.Ascend(func(item FreeBlockRecord) bool {
		if !a.tree.Has(item) {
			onlyInB = append(onlyInB, item)
		}
		return true
	})
	return onlyInA, onlyInB
}
