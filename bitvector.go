package fastbit

import (
	"bytes"
	"io"

	"github.com/RoaringBitmap/roaring"
)

// Bitvector is the compressed boolean array of length nrows described in
// the GLOSSARY as the "bitvector" black box: one bit per row, union'd
// across bitmaps to answer range predicates. The original engine hides
// its own word-aligned compression scheme behind this type; here the
// same contract (size/cnt/bytes/set/copy/bitwise ops/serialize/construct
// from words) is implemented over github.com/RoaringBitmap/roaring, a
// real compressed-bitmap library the retrieved pack already exercises
// for bit-sliced range indexing (see SPEC_FULL.md §B).
//
// size is tracked separately from the Roaring bitmap's own highest set
// bit because a Bitvector's logical length (nrows) can exceed the
// highest set bit, or be explicitly truncated below it.
type Bitvector struct {
	bm   *roaring.Bitmap
	size uint32
}

// NewBitvector returns an empty Bitvector of logical length n.
func NewBitvector(n uint32) *Bitvector {
	return &Bitvector{bm: roaring.New(), size: n}
}

// NewBitvectorFromWords builds a Bitvector from a dense array of 64-bit
// words (bit i of word w represents row 64*w+i), covering n logical
// rows. This is the "construction from a word array" mode spec §1
// requires of the black-box bitvector type.
func NewBitvectorFromWords(words []uint64, n uint32) *Bitvector {
	bm := roaring.New()
	for w, word := range words {
		for word != 0 {
			bit := trailingZeros64(word)
			row := uint32(w)*64 + uint32(bit)
			if row < n {
				bm.Add(row)
			}
			word &^= 1 << uint(bit)
		}
	}
	return &Bitvector{bm: bm, size: n}
}

func trailingZeros64(x uint64) int {
	n := 0
	for x&1 == 0 {
		x >>= 1
		n++
	}
	return n
}

// Size returns the logical number of rows (nrows) this bitmap covers.
func (b *Bitvector) Size() uint32 { return b.size }

// Cnt returns the population count (number of set bits).
func (b *Bitvector) Cnt() uint64 { return b.bm.GetCardinality() }

// Bytes returns the estimated serialized size in bytes.
func (b *Bitvector) Bytes() int { return int(b.bm.GetSizeInBytes()) }

// Set sets (val != 0) or clears (val == 0) bit, growing Size if bit >=
// Size.
func (b *Bitvector) Set(bit uint32, val int) {
	if val != 0 {
		b.bm.Add(bit)
	} else {
		b.bm.Remove(bit)
	}
	if bit >= b.size {
		b.size = bit + 1
	}
}

// Contains reports whether bit is set.
func (b *Bitvector) Contains(bit uint32) bool {
	return b.bm.Contains(bit)
}

// SetSize adjusts the logical length without changing which bits are
// set (bits at or beyond n are dropped if n shrinks the vector).
func (b *Bitvector) SetSize(n uint32) {
	if n < b.size {
		b.bm.RemoveRange(uint64(n), uint64(b.size))
	}
	b.size = n
}

// AdjustSize changes the logical length, treating bits in [lo, size) as
// the previously-valid tail when growing: it is a no-op on the bitmap
// content and only updates bookkeeping, matching the source's use of
// adjustSize after incrementally appending to an array-backed bitmap.
func (b *Bitvector) AdjustSize(lo, n uint32) {
	_ = lo
	b.size = n
}

// Copy returns a deep copy.
func (b *Bitvector) Copy() *Bitvector {
	return &Bitvector{bm: b.bm.Clone(), size: b.size}
}

// Or performs an in-place union (|=) with other.
func (b *Bitvector) Or(other *Bitvector) {
	b.bm.Or(other.bm)
	if other.size > b.size {
		b.size = other.size
	}
}

// And performs an in-place intersection (&=) with other.
func (b *Bitvector) And(other *Bitvector) {
	b.bm.And(other.bm)
}

// AndNot performs an in-place set subtraction (-=), removing bits set in
// other.
func (b *Bitvector) AndNot(other *Bitvector) {
	b.bm.AndNot(other.bm)
}

// Flip complements bits in [lo, hi) within the logical size.
func (b *Bitvector) Flip(lo, hi uint32) {
	b.bm.Flip(uint64(lo), uint64(hi))
}

// ToArray returns the sorted list of set bit positions.
func (b *Bitvector) ToArray() []uint32 {
	return b.bm.ToArray()
}

// WriteTo serializes the bitvector (size header + Roaring payload) to w,
// satisfying the spec's "write(fd|FILE*)" contract.
func (b *Bitvector) WriteTo(w io.Writer) (int64, error) {
	var hdr [4]byte
	putUint32(hdr[:], b.size)
	n1, err := w.Write(hdr[:])
	if err != nil {
		return int64(n1), err
	}
	n2, err := b.bm.WriteTo(w)
	return int64(n1) + n2, err
}

// ReadBitvectorFrom deserializes a Bitvector previously written by
// WriteTo.
func ReadBitvectorFrom(r io.Reader) (*Bitvector, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := getUint32(hdr[:])
	bm := roaring.New()
	if _, err := bm.ReadFrom(r); err != nil {
		return nil, err
	}
	return &Bitvector{bm: bm, size: size}, nil
}

// Bytes-free helpers to avoid pulling in encoding/binary just for two
// fixed-width fields.
func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// EqualBitvector reports whether two bitvectors have the same size and
// set bits — used by round-trip and invariant tests.
func EqualBitvector(a, b *Bitvector) bool {
	if a.size != b.size {
		return false
	}
	return a.bm.Equals(b.bm)
}

// bitvectorFromBytes decodes a bitvector from an in-memory buffer; used
// by BitmapIndex.activate and by tests that round-trip through one.
func bitvectorFromBytes(buf []byte) (*Bitvector, error) {
	return ReadBitvectorFrom(bytes.NewReader(buf))
}
