package fastbit

import (
	"bytes"
	"cmp"
	"container/heap"
	"encoding/binary"
	"fmt"
	"sort"
)

// TypedArray is a Storage-backed, generic replacement for std::vector
// (spec §2 TypedArray, ported from ibis::array_t<T> in
// original_source/src/array_t.h). Its underlying Storage may be shared
// with other TypedArray views over the same file; Modify-in-place
// methods therefore call nosharing first, matching the original's "the
// caller has to call nosharing to make sure the underlying data is not
// shared with others" contract.
type TypedArray[T cmp.Ordered] struct {
	storage *Storage
	elems   []T
	shared  bool
}

// NewTypedArray returns an empty, unshared TypedArray.
func NewTypedArray[T cmp.Ordered]() *TypedArray[T] {
	return &TypedArray[T]{}
}

// NewTypedArrayFromSlice wraps vals directly without copying, mirroring
// the array_t(const std::vector<T>&) constructor's shallow intent; pass
// a copy if the caller must retain exclusive ownership.
func NewTypedArrayFromSlice[T cmp.Ordered](vals []T) *TypedArray[T] {
	return &TypedArray[T]{elems: vals}
}

// NewTypedArrayView builds a shallow, shared view over [begin, end) of
// rhs, the array_t(const array_t&, begin, end) constructor. Both views
// alias the same backing storage until one calls Nosharing.
func NewTypedArrayView[T cmp.Ordered](rhs *TypedArray[T], begin, end int) *TypedArray[T] {
	if end == 0 {
		end = len(rhs.elems)
	}
	return &TypedArray[T]{elems: rhs.elems[begin:end], storage: rhs.storage, shared: true}
}

// Len returns the number of elements.
func (a *TypedArray[T]) Len() int { return len(a.elems) }

// Empty reports whether the array holds zero elements.
func (a *TypedArray[T]) Empty() bool { return len(a.elems) == 0 }

// Slice exposes the backing elements directly; treat as read-only
// unless Nosharing has been called first.
func (a *TypedArray[T]) Slice() []T { return a.elems }

// At returns the i'th element.
func (a *TypedArray[T]) At(i int) T { return a.elems[i] }

// Set assigns val to index i, requiring exclusive ownership first.
func (a *TypedArray[T]) Set(i int, val T) {
	a.Nosharing()
	a.elems[i] = val
}

// Nosharing ensures the backing slice is not aliased with any other
// TypedArray, copying it first if necessary. Call before any mutating
// operation on a view created via NewTypedArrayView.
func (a *TypedArray[T]) Nosharing() {
	if !a.shared {
		return
	}
	cp := make([]T, len(a.elems))
	copy(cp, a.elems)
	a.elems = cp
	a.storage = nil
	a.shared = false
}

// PushBack appends elm, growing capacity the way Go's append does,
// matching array_t::push_back.
func (a *TypedArray[T]) PushBack(elm T) {
	a.Nosharing()
	a.elems = append(a.elems, elm)
}

// PopBack removes the last element.
func (a *TypedArray[T]) PopBack() {
	a.Nosharing()
	if len(a.elems) > 0 {
		a.elems = a.elems[:len(a.elems)-1]
	}
}

// Resize grows or shrinks the array to exactly n elements, zero-filling
// new slots when growing.
func (a *TypedArray[T]) Resize(n int) {
	a.Nosharing()
	if n <= len(a.elems) {
		a.elems = a.elems[:n]
		return
	}
	grown := make([]T, n)
	copy(grown, a.elems)
	a.elems = grown
}

// Truncate keeps `keep` elements starting at `start`, discarding the
// rest, matching array_t::truncate.
func (a *TypedArray[T]) Truncate(keep, start int) {
	a.Nosharing()
	if start < 0 {
		start = 0
	}
	if start+keep > len(a.elems) {
		keep = len(a.elems) - start
		if keep < 0 {
			keep = 0
		}
	}
	a.elems = append(a.elems[:0], a.elems[start:start+keep]...)
}

// Insert inserts val at position pos.
func (a *TypedArray[T]) Insert(pos int, val T) {
	a.Nosharing()
	a.elems = append(a.elems, val)
	copy(a.elems[pos+1:], a.elems[pos:len(a.elems)-1])
	a.elems[pos] = val
}

// Erase removes the element at pos.
func (a *TypedArray[T]) Erase(pos int) {
	a.Nosharing()
	a.elems = append(a.elems[:pos], a.elems[pos+1:]...)
}

// EraseRange removes elements in [begin, end).
func (a *TypedArray[T]) EraseRange(begin, end int) {
	a.Nosharing()
	a.elems = append(a.elems[:begin], a.elems[end:]...)
}

// Sort sorts the array in place by value (not stable), matching
// array_t::sort's indirect-sort contract but applied directly to the
// elements rather than returning an index array.
func (a *TypedArray[T]) Sort() {
	a.Nosharing()
	sort.Slice(a.elems, func(i, j int) bool { return a.elems[i] < a.elems[j] })
}

// SortIndex returns an index permutation that would sort the array,
// leaving the array itself untouched, matching array_t::sort(ind).
func (a *TypedArray[T]) SortIndex() []uint32 {
	ind := make([]uint32, len(a.elems))
	for i := range ind {
		ind[i] = uint32(i)
	}
	sort.Slice(ind, func(i, j int) bool { return a.elems[ind[i]] < a.elems[ind[j]] })
	return ind
}

// StableSort sorts in place using a stable algorithm, matching
// array_t::stableSort(tmp).
func (a *TypedArray[T]) StableSort() {
	a.Nosharing()
	sort.SliceStable(a.elems, func(i, j int) bool { return a.elems[i] < a.elems[j] })
}

// StableSortIndex returns a stable sort permutation without reordering
// the array, matching array_t::stableSort(ind).
func (a *TypedArray[T]) StableSortIndex() []uint32 {
	ind := make([]uint32, len(a.elems))
	for i := range ind {
		ind[i] = uint32(i)
	}
	sort.SliceStable(ind, func(i, j int) bool { return a.elems[ind[i]] < a.elems[ind[j]] })
	return ind
}

// heapItem pairs a value with its original index for the topk/bottomk
// heaps below.
type heapItem[T cmp.Ordered] struct {
	val T
	idx uint32
}

type minHeap[T cmp.Ordered] []heapItem[T]

func (h minHeap[T]) Len() int            { return len(h) }
func (h minHeap[T]) Less(i, j int) bool  { return h[i].val < h[j].val }
func (h minHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap[T]) Push(x interface{}) { *h = append(*h, x.(heapItem[T])) }
func (h *minHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TopK returns the indices of the k largest elements, largest first,
// matching array_t::topk. Uses a bounded min-heap so the cost is
// O(n log k) rather than a full sort, following container/heap the way
// the rest of the corpus does for bounded selection.
func (a *TypedArray[T]) TopK(k int) []uint32 {
	return a.boundedK(k, true)
}

// BottomK returns the indices of the k smallest elements, smallest
// first, matching array_t::bottomk.
func (a *TypedArray[T]) BottomK(k int) []uint32 {
	return a.boundedK(k, false)
}

func (a *TypedArray[T]) boundedK(k int, largest bool) []uint32 {
	if k <= 0 || len(a.elems) == 0 {
		return nil
	}
	if k > len(a.elems) {
		k = len(a.elems)
	}

	h := &minHeap[T]{}
	heap.Init(h)
	for i, v := range a.elems {
		item := heapItem[T]{val: v, idx: uint32(i)}
		if h.Len() < k {
			heap.Push(h, item)
			continue
		}
		replace := false
		if largest {
			replace = v > (*h)[0].val
		} else {
			// the root is the smallest item kept; for the k smallest
			// the item to replace is the largest one kept
			m := 0
			for j := range *h {
				if (*h)[j].val > (*h)[m].val {
					m = j
				}
			}
			if v < (*h)[m].val {
				(*h)[m] = item
				heap.Fix(h, m)
			}
		}
		if replace {
			heap.Pop(h)
			heap.Push(h, item)
		}
	}

	items := []heapItem[T](*h)
	sort.Slice(items, func(i, j int) bool {
		if largest {
			return items[i].val > items[j].val
		}
		return items[i].val < items[j].val
	})
	out := make([]uint32, len(items))
	for i, it := range items {
		out[i] = it.idx
	}
	return out
}

// Find returns the index of the first element equal to val using
// binary search over a sorted array, or -1 if not found, matching
// array_t::find(val).
func (a *TypedArray[T]) Find(val T) int {
	i := sort.Search(len(a.elems), func(i int) bool { return a.elems[i] >= val })
	if i < len(a.elems) && a.elems[i] == val {
		return i
	}
	return -1
}

// FindUpper returns the index of the first element strictly greater
// than val, matching array_t::find_upper.
func (a *TypedArray[T]) FindUpper(val T) int {
	return sort.Search(len(a.elems), func(i int) bool { return a.elems[i] > val })
}

// Deduplicate removes consecutive duplicate values from a sorted array,
// matching array_t::deduplicate.
func (a *TypedArray[T]) Deduplicate() {
	a.Nosharing()
	if len(a.elems) < 2 {
		return
	}
	out := a.elems[:1]
	for _, v := range a.elems[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	a.elems = out
}

// EqualTo reports whether a and b hold identical element sequences,
// matching array_t::equal_to.
func (a *TypedArray[T]) EqualTo(b *TypedArray[T]) bool {
	if len(a.elems) != len(b.elems) {
		return false
	}
	for i := range a.elems {
		if a.elems[i] != b.elems[i] {
			return false
		}
	}
	return true
}

// Incore reports whether the array's content lives only in memory (no
// backing file), matching array_t::incore.
func (a *TypedArray[T]) Incore() bool {
	return a.storage == nil || a.storage.Unnamed()
}

// WriteTo serializes the raw element bytes to the named file using a
// fixed-width little-endian encoding. Only instantiations over
// fixed-size numeric types (the only kind the on-disk index/dictionary
// formats actually store) are supported; string-typed arrays are never
// written this way.
func (a *TypedArray[T]) WriteTo(file string) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, a.elems); err != nil {
		return fmt.Errorf("%w: typed array encode: %v", ErrArgument, err)
	}
	s := NewStorageFromBytes(buf.Bytes())
	if err := s.Write(file); err != nil {
		return fmt.Errorf("%w: typed array write: %v", ErrIOError, err)
	}
	return nil
}
