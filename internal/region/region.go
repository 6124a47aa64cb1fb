// Package region implements the region provider §6 of the allocator spec:
// a contiguous byte range that only grows at the high end, standing in for
// the external sbrk-like collaborator the allocator is built on top of.
//
// A Region owns exactly one growable []byte. Addresses handed out by Sbrk
// are offsets into that slice, not real process memory addresses -- the
// allocator above never needs anything more than that, and it keeps the
// whole module free of unsafe.Pointer.
package region

import "fmt"

// Error is a small sentinel error type, following the same shape the
// teacher's internal/stripealloc package uses for its allocation errors.
type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == e.Msg
}

// ErrExhausted is returned by Sbrk when growing the region would exceed
// the configured maximum size. It is the Go-level stand-in for mem_sbrk
// returning its failure sentinel in the original design.
var ErrExhausted = &Error{Msg: "region: exhausted, grow request refused"}

// ErrMisaligned describes a region size that is not double-word aligned.
// No function in this package returns it: New takes no initial size and
// has no error result.
var ErrMisaligned = &Error{Msg: "region: initial size is not 8-byte aligned"}

type options struct {
	maxBytes int64 // 0 means unbounded
}

// Option configures a Region at construction time.
type Option func(*options)

// WithMaxBytes caps the total size the region may grow to. Once reached,
// Sbrk returns ErrExhausted instead of growing further. A value of 0 (the
// default) leaves the region unbounded, which is the common case for
// tests that only care about allocator correctness, not exhaustion
// behavior.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.maxBytes = n }
}

// Region is a contiguous, monotonically-growing byte arena. It is not
// safe for concurrent use, matching §5 of the allocator this package
// backs: no operation on a Region may run concurrently with any other.
type Region struct {
	buf  []byte
	opts options
}

// New constructs an empty Region. Init must be called before use.
func New(opts ...Option) *Region {
	r := &Region{}
	for _, opt := range opts {
		opt(&r.opts)
	}
	return r
}

// Init establishes base == brk == 0. It exists as a distinct step from New
// to mirror the region_init()/region_sbrk() split in §6 of the spec --
// construction and "coming into existence" are different moments for a
// region provider backed by a real OS mapping, even though for this
// in-process implementation they could be collapsed.
func (r *Region) Init() {
	r.buf = r.buf[:0]
}

// Brk returns the current break: the number of bytes the region has grown
// to since Init. This doubles as the one-past-the-end address.
func (r *Region) Brk() uint32 {
	return uint32(len(r.buf))
}

// Sbrk grows the region by incrementBytes and returns the address of the
// start of the new extent (the old break), or ErrExhausted if the region
// has a configured max and growing would exceed it.
func (r *Region) Sbrk(incrementBytes uint32) (uint32, error) {
	if incrementBytes == 0 {
		return r.Brk(), nil
	}
	old := len(r.buf)
	newLen := old + int(incrementBytes)
	if r.opts.maxBytes > 0 && int64(newLen) > r.opts.maxBytes {
		return 0, ErrExhausted
	}
	if newLen <= cap(r.buf) {
		r.buf = r.buf[:newLen]
		for i := old; i < newLen; i++ {
			r.buf[i] = 0
		}
		return uint32(old), nil
	}
	// Grow geometrically so repeated small extend_heap calls amortize,
	// same intent as the teacher's bumpalloc chunked buffer growth.
	grown := make([]byte, newLen, max64(int64(newLen), int64(cap(r.buf))*2))
	copy(grown, r.buf)
	r.buf = grown
	return uint32(old), nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Bytes returns the live view of the region's bytes. Callers must re-fetch
// this after any Sbrk call rather than caching the slice, since growth may
// reallocate the backing array.
func (r *Region) Bytes() []byte {
	return r.buf
}

// Len reports the region's current size in bytes (brk - base).
func (r *Region) Len() int {
	return len(r.buf)
}

func (r *Region) String() string {
	return fmt.Sprintf("region{len=%d}", len(r.buf))
}
