package heapcore

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/heaplab-dev/mmheap/internal/blocklayout"
	"github.com/heaplab-dev/mmheap/internal/freetree"
	"github.com/heaplab-dev/mmheap/internal/ioutil"
	"github.com/heaplab-dev/mmheap/internal/region"
)

// snapshotMagic tags the dump format so RestoreRegion can fail fast on
// unrelated input instead of feeding garbage to the zstd decoder.
const snapshotMagic = uint32(0x6d6d6831) // "mmh1"

// DumpRegion writes a zstd-compressed, BLAKE3-tagged snapshot of h's
// region to w, for offline corruption analysis: a reproduction of a
// CheckHeap failure can be captured once and replayed later without
// keeping the whole process alive. This supplements §4.6, it does not
// change what CheckHeap itself asserts.
//
// Layout: magic (4 bytes) | listHead (4) | chunkSize (4) | digest (32) |
// raw region length (4) | zstd-compressed region bytes.
func DumpRegion(w io.Writer, h *Heap) error {
	raw := h.region.Bytes()
	digest := blake3.Sum256(raw)

	bw := ioutil.WithBufferedWrites(w)
	header := make([]byte, 0, 4+4+4+32+4)
	header = binary.LittleEndian.AppendUint32(header, snapshotMagic)
	header = binary.LittleEndian.AppendUint32(header, h.listHead)
	header = binary.LittleEndian.AppendUint32(header, h.chunkSize)
	header = append(header, digest[:]...)
	header = binary.LittleEndian.AppendUint32(header, uint32(len(raw)))
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("heapcore: dump region: write header: %w", err)
	}

	zw, err := zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return fmt.Errorf("heapcore: dump region: new zstd writer: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return fmt.Errorf("heapcore: dump region: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("heapcore: dump region: close zstd writer: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("heapcore: dump region: flush: %w", err)
	}
	return nil
}

// RestoreRegion reverses DumpRegion: it verifies the BLAKE3 digest, then
// rebuilds a Heap over the decompressed region bytes. The free tree's
// root pointer isn't part of the snapshot (everything the tree needs
// lives in-region as child links already), so it is reconstructed by
// recoverTreeRoot instead of being stored and replayed.
func RestoreRegion(r io.Reader) (*Heap, error) {
	br := ioutil.WithBufferedReads(r)

	header := make([]byte, 4+4+4+32+4)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("heapcore: restore region: read header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != snapshotMagic {
		return nil, fmt.Errorf("heapcore: restore region: bad magic %#x", magic)
	}
	listHead := binary.LittleEndian.Uint32(header[4:8])
	chunkSize := binary.LittleEndian.Uint32(header[8:12])
	var wantDigest [32]byte
	copy(wantDigest[:], header[12:44])
	rawLen := binary.LittleEndian.Uint32(header[44:48])

	zr, err := zstd.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("heapcore: restore region: new zstd reader: %w", err)
	}
	defer zr.Close()

	raw := make([]byte, rawLen)
	if _, err := io.ReadFull(zr, raw); err != nil {
		return nil, fmt.Errorf("heapcore: restore region: decompress: %w", err)
	}

	gotDigest := blake3.Sum256(raw)
	if gotDigest != wantDigest {
		return nil, fmt.Errorf("heapcore: restore region: digest mismatch, snapshot is corrupt")
	}

	reg := region.New()
	reg.Init()
	if _, err := reg.Sbrk(uint32(len(raw))); err != nil {
		return nil, fmt.Errorf("heapcore: restore region: grow: %w", err)
	}
	copy(reg.Bytes(), raw)

	h := New(reg, WithChunkSize(chunkSize))
	h.listHead = listHead
	h.root = recoverTreeRoot(reg.Bytes(), listHead)
	return h, nil
}

// recoverTreeRoot rebuilds the free-tree root pointer after a restore.
// DumpRegion preserves raw region bytes only, not the external root
// pointer (the tree's shape itself is fully encoded in-region, as
// left/right child links inside free blocks, but the root is not a
// link any node carries). Walking the physical blocks and picking the
// free block that no other free block links to as a child recovers the
// root without rewriting any link, so the restored bytes stay identical
// to the dumped ones, rather than storing the root as a sixth snapshot
// field that would go stale the moment the restored heap is mutated.
func recoverTreeRoot(buf []byte, listHead Addr) Addr {
	var free []Addr
	isChild := make(map[Addr]bool)
	addr := listHead
	for {
		size := blocklayout.SizeOf(buf, addr)
		if size == 0 {
			break
		}
		if !blocklayout.IsAllocated(buf, addr) {
			free = append(free, addr)
			isChild[freetree.Left(buf, addr)] = true
			isChild[freetree.Right(buf, addr)] = true
		}
		addr = blocklayout.NextBlock(buf, addr)
	}
	for _, a := range free {
		if !isChild[a] {
			return a
		}
	}
	return NullAddr
}
