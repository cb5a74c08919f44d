package bin

import "github.com/hollowtree/segmentdb/errs"

// Slice is a window (backing, offset, length, writtenLength) over a byte
// buffer, shared here between two distinct uses: a build slice, created
// with a fixed capacity and grown by Add/AddUnsigned while tracking how much
// of that capacity has actually been written, and a view slice, which is
// immutable and always reports writtenLength == length.
//
// Sub-slicing (View) shares the backing array; it never copies. The segment
// codec does not use Slice: it encodes through Encoder and decodes each key
// into a freshly allocated byte slice.
type Slice struct {
	backing []byte
	offset  int
	length  int
	written int
	build   bool
}

// NewBuildSlice allocates a fresh backing array of the given capacity and
// returns a build slice over all of it, initially empty.
func NewBuildSlice(capacity int) *Slice {
	return &Slice{backing: make([]byte, capacity), length: capacity, build: true}
}

// NewViewSlice wraps an existing byte slice as an immutable view. The
// returned Slice shares storage with b.
func NewViewSlice(b []byte) *Slice {
	return &Slice{backing: b, length: len(b), written: len(b)}
}

// Len reports the logical length (writtenLength) of the slice.
func (s *Slice) Len() int { return s.written }

// Cap reports the declared capacity (length) of the slice.
func (s *Slice) Cap() int { return s.length }

// IsBuild reports whether this slice still accepts Add/AddUnsigned calls.
func (s *Slice) IsBuild() bool { return s.build }

// Bytes returns the written portion of the slice. For a view slice this is
// the whole thing; for a build slice it is only what has been appended so
// far. The returned slice aliases the backing array and must not be
// retained past a later Add call on the same Slice.
func (s *Slice) Bytes() []byte {
	return s.backing[s.offset : s.offset+s.written]
}

// Add appends p to a build slice, failing with errs.InsufficientCapacity if
// doing so would exceed the declared length. It panics if called on a view
// slice, since views are immutable by construction.
func (s *Slice) Add(p []byte) error {
	if !s.build {
		panic("bin: Add called on a view slice")
	}
	if s.written+len(p) > s.length {
		return errs.InsufficientCapacity
	}
	copy(s.backing[s.offset+s.written:], p)
	s.written += len(p)
	return nil
}

// AddUnsigned appends v as a little-endian varint, the same wire encoding
// Encoder/Decoder use elsewhere in this package.
func (s *Slice) AddUnsigned(v uint64) error {
	var scratch [10]byte
	n := 0
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v > 0 {
			scratch[n] = b | 0x80
			n++
		} else {
			scratch[n] = b
			n++
			break
		}
	}
	return s.Add(scratch[:n])
}

// View returns a sub-slice of length n starting at offset within the
// logical (written) bytes of s, sharing backing storage. The result is
// itself a view: immutable, writtenLength == length.
func (s *Slice) View(offset, n int) *Slice {
	if offset < 0 || n < 0 || offset+n > s.written {
		panic("bin: Slice.View out of bounds")
	}
	return &Slice{backing: s.backing, offset: s.offset + offset, length: n, written: n}
}
