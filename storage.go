package fastbit

import (
	"fmt"
	"os"
	"sync/atomic"
)

// Storage is a reference-counted, possibly file-backed byte buffer
// (spec §2 Storage, ported from ibis::fileManager::storage in
// original_source/src/fileManager.h). A Storage may be:
//   - an anonymous, unnamed heap buffer the caller owns exclusively;
//   - a named buffer registered with FileManager and shared by
//     reference count across every BitmapIndex/Dictionary/TypedArray
//     that opened the same file.
//
// Unnamed storage is not tracked by FileManager and should be released
// (garbage collected) as soon as its last reference drops; the
// reference count on those is purely informational.
type Storage struct {
	name string // empty if unnamed
	buf  []byte

	nref atomic.Int32
	nacc atomic.Uint32
}

// NewStorage allocates n zeroed, unnamed bytes.
func NewStorage(n int) *Storage {
	return &Storage{buf: make([]byte, n)}
}

// NewStorageFromBytes wraps an existing byte slice without copying;
// callers must not mutate buf after this returns unless they hold the
// only reference.
func NewStorageFromBytes(buf []byte) *Storage {
	return &Storage{buf: buf}
}

// NewStorageCopy makes an independent, unnamed copy of the range
// [begin, end) of rhs — the "make another copy" constructor from the
// original's storage(begin, end) and copy().
func NewStorageCopy(rhs *Storage, begin, end int) *Storage {
	if begin < 0 {
		begin = 0
	}
	if end > len(rhs.buf) {
		end = len(rhs.buf)
	}
	if begin >= end {
		return &Storage{}
	}
	cp := make([]byte, end-begin)
	copy(cp, rhs.buf[begin:end])
	return &Storage{buf: cp}
}

// NewStorageFromFile reads [begin, end) of an already-open file into a
// new unnamed Storage, mirroring storage(fdes, begin, end).
func NewStorageFromFile(f *os.File, begin, end int64) (*Storage, error) {
	buf := make([]byte, end-begin)
	if _, err := f.ReadAt(buf, begin); err != nil {
		return nil, fmt.Errorf("%w: read storage: %v", ErrIOError, err)
	}
	return &Storage{buf: buf}, nil
}

// Named returns the backing file name, or "" if this Storage is
// unnamed (not tracked by any FileManager).
func (s *Storage) Named() string { return s.name }

// Unnamed reports whether this Storage has no associated file.
func (s *Storage) Unnamed() bool { return s.name == "" }

// Empty reports whether the storage holds zero bytes.
func (s *Storage) Empty() bool { return len(s.buf) == 0 }

// Size returns the number of bytes held (alias of Bytes, matching the
// original's size()/bytes() pair).
func (s *Storage) Size() int { return len(s.buf) }

// Bytes returns the storage's backing slice directly; callers must not
// retain and mutate it unless they hold exclusive use (see BeginUse).
func (s *Storage) Bytes() []byte { return s.buf }

// BeginUse records a new active reference, matching the original's
// refcount increment. Go's GC makes the count advisory (it does not
// gate deallocation) but FileManager's eviction scoring still consults
// InUse to avoid evicting a Storage mid-access.
func (s *Storage) BeginUse() {
	s.nref.Add(1)
}

// EndUse records the termination of an active reference and bumps the
// past-access counter reported by PastUse.
func (s *Storage) EndUse() {
	s.nref.Add(-1)
	s.nacc.Add(1)
}

// InUse returns the number of current active references.
func (s *Storage) InUse() int32 { return s.nref.Load() }

// PastUse returns the number of completed accesses.
func (s *Storage) PastUse() uint32 { return s.nacc.Load() }

// Enlarge grows the storage to at least nelm bytes, or by the golden
// ratio (61.8%) over its current size if nelm is smaller or zero,
// matching storage::enlarge's "61.8%" growth policy. Existing content
// is preserved; new bytes are zeroed.
func (s *Storage) Enlarge(nelm int) {
	cur := len(s.buf)
	target := nelm
	if target <= cur {
		growth := int(float64(cur) * 0.618)
		if growth < 8 {
			growth = 8
		}
		target = cur + growth
	}
	grown := make([]byte, target)
	copy(grown, s.buf)
	s.buf = grown
}

// Read fills the storage (resizing it to end-begin) from an open file
// descriptor, returning the number of bytes read.
func (s *Storage) Read(f *os.File, begin, end int64) (int64, error) {
	buf := make([]byte, end-begin)
	n, err := f.ReadAt(buf, begin)
	if err != nil {
		return int64(n), fmt.Errorf("%w: storage read: %v", ErrIOError, err)
	}
	s.buf = buf
	return int64(n), nil
}

// Write writes the whole storage content to the named file, creating or
// truncating it.
func (s *Storage) Write(file string) error {
	if err := os.WriteFile(file, s.buf, 0o644); err != nil {
		return fmt.Errorf("%w: storage write %s: %v", ErrIOError, file, err)
	}
	return nil
}

// Copy returns an independent deep copy of the whole storage, unnamed
// regardless of whether the receiver was named (matching the original's
// copy constructor, which always produces an in-memory-only copy).
func (s *Storage) Copy() *Storage {
	cp := make([]byte, len(s.buf))
	copy(cp, s.buf)
	return &Storage{buf: cp}
}

// Slice returns a Storage sharing the backing array over [begin, end)
// without copying, so long as the parent outlives the view.
func (s *Storage) Slice(begin, end int) *Storage {
	if begin < 0 {
		begin = 0
	}
	if end > len(s.buf) {
		end = len(s.buf)
	}
	if begin >= end {
		return &Storage{}
	}
	return &Storage{buf: s.buf[begin:end]}
}
