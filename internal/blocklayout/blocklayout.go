// Package blocklayout implements the boundary-tag block primitives of
// §4.1: pure pointer arithmetic over a region's bytes. Every function
// here is O(1) and none of them validate their input -- per the spec,
// callers are responsible for alignment and for only calling these on
// bytes that are actually laid out as a block.
package blocklayout

import "encoding/binary"

// Addr is an offset into a region's byte buffer. It plays the role the
// original C source gives a raw block/payload pointer.
type Addr = uint32

// NullAddr is the sentinel "no block"/"no child" address. Address 0 is
// never a valid payload or tree-link target in this layout (the region's
// first 8 bytes are always the alignment pad and the prologue header), so
// it doubles safely as the sentinel the spec calls `none`.
const NullAddr Addr = 0

const (
	// WordSize is the 4-byte word the spec fixes for headers and footers.
	WordSize = 4
	// DWordSize is the 8-byte double-word all payload pointers are aligned to.
	DWordSize = 8

	// MinBlockSize is the smallest legal block: header + 2-word payload + footer.
	MinBlockSize = 16

	// OverheadSize is the combined header+footer overhead charged against
	// every allocation request, and the size of the prologue sentinel.
	OverheadSize = 2 * WordSize

	allocBit = 0x1
	sizeMask = ^uint32(0x7)
)

// Pack combines a size and allocated flag into a single boundary-tag word.
func Pack(size uint32, allocated bool) uint32 {
	w := size & sizeMask
	if allocated {
		w |= allocBit
	}
	return w
}

// ReadWord reads the word at the given address.
func ReadWord(buf []byte, addr Addr) uint32 {
	return binary.LittleEndian.Uint32(buf[addr : addr+WordSize])
}

// WriteWord writes val at the given address.
func WriteWord(buf []byte, addr Addr, val uint32) {
	binary.LittleEndian.PutUint32(buf[addr:addr+WordSize], val)
}

// HeaderAddr returns the address of payload's header word.
func HeaderAddr(payload Addr) Addr {
	return payload - WordSize
}

// FooterAddr returns the address of payload's footer word. Requires the
// header to already carry the correct size.
func FooterAddr(buf []byte, payload Addr) Addr {
	return payload + SizeOf(buf, payload) - DWordSize
}

// SizeOf returns the total block size (header+payload+footer) for the
// block owning payload, read from its header.
func SizeOf(buf []byte, payload Addr) uint32 {
	return ReadWord(buf, HeaderAddr(payload)) & sizeMask
}

// IsAllocated reports whether the block owning payload is allocated.
func IsAllocated(buf []byte, payload Addr) bool {
	return ReadWord(buf, HeaderAddr(payload))&allocBit != 0
}

// WriteTags stamps both the header and footer of the block at payload with
// size and the allocated bit. Callers own ensuring size and payload are
// 8-byte aligned per the spec; this function does not check.
func WriteTags(buf []byte, payload Addr, size uint32, allocated bool) {
	word := Pack(size, allocated)
	WriteWord(buf, HeaderAddr(payload), word)
	WriteWord(buf, payload+size-DWordSize, word)
}

// NextBlock returns the payload pointer of the physical block immediately
// following payload's block.
func NextBlock(buf []byte, payload Addr) Addr {
	return payload + SizeOf(buf, payload)
}

// PrevBlock returns the payload pointer of the physical block immediately
// preceding payload's block, read via the previous block's footer.
func PrevBlock(buf []byte, payload Addr) Addr {
	prevFooter := payload - DWordSize
	prevSize := ReadWord(buf, prevFooter) & sizeMask
	return payload - prevSize
}
