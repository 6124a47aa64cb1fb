package freetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShadowFromTreeMatchesAscend(t *testing.T) {
	t.Parallel()
	buf := newBuf(256)
	sizes := []uint32{32, 48, 96}
	payloads := []Addr{16, 64, 128}
	root := Addr(NoChild)
	for i, sz := range sizes {
		root = Insert(buf, root, mkBlock(buf, payloads[i], sz))
	}

	fromTree := NewShadowFromTree(buf, root)
	assert.Equal(t, 3, fromTree.Len())

	physical := NewShadowIndex()
	for i, sz := range sizes {
		physical.Add(sz, payloads[i])
	}

	onlyInTree, onlyInPhysical := Diff(fromTree, physical)
	assert.Empty(t, onlyInTree)
	assert.Empty(t, onlyInPhysical)
}

func TestShadowDiffCatchesMismatch(t *testing.T) {
	t.Parallel()
	buf := newBuf(256)
	a := mkBlock(buf, 16, 32)
	root := Insert(buf, Addr(NoChild), a)

	fromTree := NewShadowFromTree(buf, root)

	physical := NewShadowIndex()
	physical.Add(32, 16)
	physical.Add(64, 96) // a block the tree doesn't know about

	onlyInTree, onlyInPhysical := Diff(fromTree, physical)
	assert.Empty(t, onlyInTree)
	assert.Equal(t, []FreeBlockRecord{{Size: 64, Addr: 96}}, onlyInPhysical)
}
