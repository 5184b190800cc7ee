package fastbit

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

// BitmapIndex is the basic equality-encoded bitmap index (spec §4.5,
// ported from ibis::index/ibis::relic's on-disk layout described in
// original_source/src/fileManager.h's neighboring index family and the
// GLOSSARY's "basic equality" description): a sorted array of distinct
// column values paired one-to-one with a bitmap recording which rows
// hold that value.
type BitmapIndex struct {
	path   string
	vals   []float64
	bits   []*Bitvector // lazily activated; nil until first use
	offsets []int64     // len(vals)+1, byte offsets of bits[i] in the file
	nrows  uint32

	fm *FileManager

	// scanner, column, and otherColumn back the spec §4.5 "fall back to
	// a scan on the parent part" path: set via SetScanner when the
	// caller embeds this index in a larger query engine that can answer
	// ScanCompJoin for rows a coarse per-value JoinExpr can't evaluate.
	scanner     PartScanner
	column      string
	otherColumn string
}

// SetScanner attaches the part-level fallback scanner CompJoin/RangeJoin
// use for rows whose JoinExpr returns ok=false, along with the pair of
// column names to hand it (spec §4.5: "All join functions fall back to
// a scan on the parent part when they cannot evaluate"). Without a
// scanner, those rows are simply excluded from the result, as before.
func (idx *BitmapIndex) SetScanner(scanner PartScanner, selfCol, otherCol string) {
	idx.scanner = scanner
	idx.column = selfCol
	idx.otherColumn = otherCol
}

// BuildBitmapIndex constructs an index over values (one float64 per row
// present in the column's null mask; absent rows are simply omitted).
// rowIDs[i] gives the row ordinal that values[i] belongs to, matching
// the "scan the column's backing values under the column's null mask"
// build step of spec §4.5.
func BuildBitmapIndex(rowIDs []uint32, values []float64, nrows uint32) *BitmapIndex {
	groups := make(map[float64][]uint32)
	for i, v := range values {
		groups[v] = append(groups[v], rowIDs[i])
	}

	vals := make([]float64, 0, len(groups))
	for v := range groups {
		vals = append(vals, v)
	}
	sort.Float64s(vals)

	bits := make([]*Bitvector, len(vals))
	for i, v := range vals {
		bv := NewBitvector(nrows)
		for _, r := range groups[v] {
			bv.Set(r, 1)
		}
		bits[i] = bv
	}

	return &BitmapIndex{vals: vals, bits: bits, nrows: nrows}
}

// K returns the number of distinct values (bitmaps) in the index.
func (idx *BitmapIndex) K() int { return len(idx.vals) }

// Vals returns the sorted distinct values backing the index.
func (idx *BitmapIndex) Vals() []float64 { return idx.vals }

// activate lazily loads bits[i] from the backing file if not already
// resident, matching the "Activation is lazy" invariant of spec §3.
func (idx *BitmapIndex) activate(i int) (*Bitvector, error) {
	if idx.bits[i] != nil {
		return idx.bits[i], nil
	}
	if idx.path == "" {
		return NewBitvector(idx.nrows), nil
	}
	fm := idx.fm
	if fm == nil {
		fm = defaultFileManager()
	}
	st, err := fm.GetFileSegment(idx.path, idx.offsets[i], idx.offsets[i+1])
	if err != nil {
		return nil, err
	}
	bv, err := bitvectorFromBytes(st.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: activate bits[%d]: %v", ErrBadFormat, i, err)
	}
	idx.bits[i] = bv
	return bv, nil
}

// activateRange activates each bitmap in bits[lo:hi) in turn, one
// activate call per bitmap, standing in for "Bitmaps are loaded lazily in contiguous spans to coalesce
// I/O" (spec §4.5 sumBits).
func (idx *BitmapIndex) activateRange(lo, hi int) error {
	for i := lo; i < hi; i++ {
		if _, err := idx.activate(i); err != nil {
			return err
		}
	}
	return nil
}

// lowerBound returns the first index i with vals[i] >= v.
func (idx *BitmapIndex) lowerBound(v float64) int {
	return sort.Search(len(idx.vals), func(i int) bool { return idx.vals[i] >= v })
}

// upperBound returns the first index i with vals[i] > v.
func (idx *BitmapIndex) upperBound(v float64) int {
	return sort.Search(len(idx.vals), func(i int) bool { return idx.vals[i] > v })
}

// Locate computes the half-open index interval [hit0, hit1) of vals
// satisfying pred, matching BitmapIndex::locate (spec §4.5). Equality
// predicates (LeftOp == CompEQ) are handled as the "degenerate"
// single-value case the spec calls out; RightOp is ignored in that
// case. CompNE gets no special handling here; Evaluate complements the
// equality result for it.
func (idx *BitmapIndex) Locate(pred RangePredicate) (int, int) {
	if pred.LeftOp == CompEQ {
		lo := idx.lowerBound(pred.Left)
		hi := idx.upperBound(pred.Left)
		return lo, hi
	}

	lo := 0
	switch pred.LeftOp {
	case CompGT:
		lo = idx.upperBound(pred.Left)
	case CompGE:
		lo = idx.lowerBound(pred.Left)
	}

	hi := len(idx.vals)
	switch pred.RightOp {
	case CompLT:
		hi = idx.lowerBound(pred.Right)
	case CompLE:
		hi = idx.upperBound(pred.Right)
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// EvaluateEquality answers the degenerate "= v" / "<> v" case directly,
// matching BitmapIndex::evaluate's own Equal/EqualityEncoding shortcut
// for a qContinuousRange collapsed to a single value. It is equivalent
// to calling Evaluate with the corresponding RangePredicate, but lets
// callers holding only a parsed EqualityPredicate skip constructing one.
func (idx *BitmapIndex) EvaluateEquality(pred EqualityPredicate) (*Bitvector, error) {
	op := CompEQ
	if !pred.Equal {
		op = CompNE
	}
	return idx.Evaluate(RangePredicate{Left: pred.Value, LeftOp: op})
}

// Evaluate answers pred over this index, matching BitmapIndex::evaluate
// (spec §4.5): an empty index yields an empty result, a whole-range
// predicate yields the full null mask (union of every bitmap), a
// single-value range loads just that bitmap, and anything wider calls
// SumBits.
func (idx *BitmapIndex) Evaluate(pred RangePredicate) (*Bitvector, error) {
	if pred.LeftOp == CompNE {
		whole, err := idx.SumBits(0, len(idx.vals))
		if err != nil {
			return nil, err
		}
		excl, err := idx.Evaluate(RangePredicate{Left: pred.Left, LeftOp: CompEQ})
		if err != nil {
			return nil, err
		}
		whole.AndNot(excl)
		return whole, nil
	}

	lo, hi := idx.Locate(pred)
	if len(idx.vals) == 0 || lo >= hi {
		return NewBitvector(idx.nrows), nil
	}
	if lo == 0 && hi == len(idx.vals) {
		return idx.SumBits(lo, hi)
	}
	if hi-lo == 1 {
		return idx.activate(lo)
	}
	return idx.SumBits(lo, hi)
}

// SumBits unions bits[lo:hi), matching BitmapIndex::sumBits (spec
// §4.5). When offsets are known it picks whichever of "direct union"
// or "complement of the union of the outside range" reads fewer bytes,
// defaulting to direct when the two are within 1% of each other or
// offsets are unavailable.
func (idx *BitmapIndex) SumBits(lo, hi int) (*Bitvector, error) {
	if lo >= hi {
		return NewBitvector(idx.nrows), nil
	}

	direct := true
	if idx.offsets != nil {
		total := idx.offsets[len(idx.offsets)-1] - idx.offsets[0]
		directBytes := idx.offsets[hi] - idx.offsets[lo]
		outsideBytes := total - directBytes
		if float64(outsideBytes) < 0.99*float64(directBytes) {
			direct = false
		}
	}

	if direct {
		if err := idx.activateRange(lo, hi); err != nil {
			return nil, err
		}
		out := NewBitvector(idx.nrows)
		for i := lo; i < hi; i++ {
			out.Or(idx.bits[i])
		}
		return out, nil
	}

	if err := idx.activateRange(0, lo); err != nil {
		return nil, err
	}
	if err := idx.activateRange(hi, len(idx.vals)); err != nil {
		return nil, err
	}
	out := NewBitvector(idx.nrows)
	for i := 0; i < lo; i++ {
		out.Or(idx.bits[i])
	}
	for i := hi; i < len(idx.vals); i++ {
		out.Or(idx.bits[i])
	}
	out.Flip(0, idx.nrows)
	return out, nil
}

// EquiJoin merges idx's and other's sorted vals arrays and, for every
// equal key, unions the outer product of the masked bitmaps on each
// side, matching BitmapIndex::equiJoin (spec §4.5). The result is a
// bitmap over idx's row space: bit r is set if row r participates in
// at least one matching pair.
func (idx *BitmapIndex) EquiJoin(other *BitmapIndex, mask *Bitvector) (*Bitvector, error) {
	out := NewBitvector(idx.nrows)
	i, j := 0, 0
	for i < len(idx.vals) && j < len(other.vals) {
		switch {
		case idx.vals[i] < other.vals[j]:
			i++
		case idx.vals[i] > other.vals[j]:
			j++
		default:
			left, err := idx.activate(i)
			if err != nil {
				return nil, err
			}
			right, err := other.activate(j)
			if err != nil {
				return nil, err
			}
			if right.Cnt() > 0 {
				contrib := left.Copy()
				if mask != nil {
					contrib.And(mask)
				}
				out.Or(contrib)
			}
			i++
			j++
		}
	}
	return out, nil
}

// RangeJoin unions, for each value v in idx, the bitmaps of other whose
// values fall in [v-delta, v+delta], matching BitmapIndex::rangeJoin.
func (idx *BitmapIndex) RangeJoin(other *BitmapIndex, mask *Bitvector, delta float64) (*Bitvector, error) {
	return idx.compJoin(other, mask, func(float64) (float64, bool) { return delta, true })
}

// CompJoin is RangeJoin with a per-value delta re-evaluated by expr,
// matching BitmapIndex::compJoin. Values for which expr returns ok=false
// are folded into a single part-level scan via SetScanner's PartScanner,
// if one is attached; otherwise they are simply excluded from the result.
func (idx *BitmapIndex) CompJoin(other *BitmapIndex, mask *Bitvector, expr JoinExpr) (*Bitvector, error) {
	return idx.compJoin(other, mask, expr)
}

func (idx *BitmapIndex) compJoin(other *BitmapIndex, mask *Bitvector, expr JoinExpr) (*Bitvector, error) {
	out := NewBitvector(idx.nrows)
	var unevaluable *Bitvector
	for i, v := range idx.vals {
		delta, ok := expr(v)
		if !ok {
			if idx.scanner == nil {
				continue
			}
			left, err := idx.activate(i)
			if err != nil {
				return nil, err
			}
			if unevaluable == nil {
				unevaluable = NewBitvector(idx.nrows)
			}
			unevaluable.Or(left)
			continue
		}
		lo := other.lowerBound(v - delta)
		hi := other.upperBound(v + delta)
		if lo >= hi {
			continue
		}
		window, err := other.SumBits(lo, hi)
		if err != nil {
			return nil, err
		}
		if window.Cnt() == 0 {
			continue
		}
		left, err := idx.activate(i)
		if err != nil {
			return nil, err
		}
		contrib := left.Copy()
		if mask != nil {
			contrib.And(mask)
		}
		out.Or(contrib)
	}

	if unevaluable != nil && unevaluable.Cnt() > 0 {
		if mask != nil {
			unevaluable.And(mask)
		}
		logMessage(2, "bitmapIndex", "compJoin: falling back to part scan for %d row(s) the index could not evaluate", unevaluable.Cnt())
		scanned, err := idx.scanner.ScanCompJoin(idx.column, idx.otherColumn, unevaluable, expr)
		if err != nil {
			return nil, fmt.Errorf("%w: compJoin part scan fallback: %v", ErrIOError, err)
		}
		out.Or(scanned)
	}
	return out, nil
}

// Write serializes the index to name using the on-disk layout of spec
// §4.5: an 8-byte magic/type header, nrows/K/K, padding to an 8-byte
// boundary, the vals array, an offsets array, then the bitmaps
// back-to-back.
func (idx *BitmapIndex) Write(name string) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIOError, name, err)
	}
	ok := false
	defer func() {
		f.Close()
		if !ok {
			os.Remove(name)
		}
	}()
	w := bufio.NewWriter(f)

	if _, err := w.Write(IndexMagic[:]); err != nil {
		return fmt.Errorf("%w: write header: %v", ErrIOError, err)
	}
	if err := w.WriteByte(byte(IndexRelic)); err != nil {
		return fmt.Errorf("%w: write typecode: %v", ErrIOError, err)
	}
	if err := w.WriteByte(byte(int32Size)); err != nil {
		return fmt.Errorf("%w: write int32 size: %v", ErrIOError, err)
	}

	k := uint32(len(idx.vals))
	for _, v := range []uint32{idx.nrows, k, k} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("%w: write header fields: %v", ErrIOError, err)
		}
	}

	written := 8 + 3*4
	for written%alignBoundary != 0 {
		if err := w.WriteByte(0); err != nil {
			return fmt.Errorf("%w: write padding: %v", ErrIOError, err)
		}
		written++
	}

	if err := binary.Write(w, binary.LittleEndian, idx.vals); err != nil {
		return fmt.Errorf("%w: write vals: %v", ErrIOError, err)
	}

	bufs := make([][]byte, k)
	offsets := make([]int32, k+1)
	var cur int32
	for i := range idx.bits {
		bv, aerr := idx.activate(i)
		if aerr != nil {
			return aerr
		}
		var buf bytes.Buffer
		if _, werr := bv.WriteTo(&buf); werr != nil {
			return fmt.Errorf("%w: serialize bits[%d]: %v", ErrIOError, i, werr)
		}
		bufs[i] = buf.Bytes()
		offsets[i] = cur
		cur += int32(len(bufs[i]))
	}
	offsets[k] = cur

	if err := binary.Write(w, binary.LittleEndian, offsets); err != nil {
		return fmt.Errorf("%w: write offsets: %v", ErrIOError, err)
	}
	for _, b := range bufs {
		if _, err := w.Write(b); err != nil {
			return fmt.Errorf("%w: write bits: %v", ErrIOError, err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrIOError, err)
	}
	ok = true
	return nil
}

// ReadBitmapIndex loads an index file written by Write, leaving its
// bitmaps unactivated until first use.
func ReadBitmapIndex(name string) (*BitmapIndex, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIOError, name, err)
	}
	defer f.Close()

	var hdr [8]byte
	if _, err := f.Read(hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrIOError, err)
	}
	if [6]byte(hdr[:6]) != IndexMagic {
		return nil, fmt.Errorf("%w: bad index magic", ErrBadFormat)
	}

	var fields [3]uint32
	if err := binary.Read(f, binary.LittleEndian, &fields); err != nil {
		return nil, fmt.Errorf("%w: read header fields: %v", ErrBadFormat, err)
	}
	nrows, k := fields[0], fields[1]

	pos := int64(8 + 12)
	pos = int64(padTo(int(pos), alignBoundary))
	if _, err := f.Seek(pos, 0); err != nil {
		return nil, fmt.Errorf("%w: seek vals: %v", ErrIOError, err)
	}

	vals := make([]float64, k)
	if err := binary.Read(f, binary.LittleEndian, &vals); err != nil {
		return nil, fmt.Errorf("%w: read vals: %v", ErrBadFormat, err)
	}

	offsets32 := make([]int32, k+1)
	if err := binary.Read(f, binary.LittleEndian, &offsets32); err != nil {
		return nil, fmt.Errorf("%w: read offsets: %v", ErrBadFormat, err)
	}

	bitsStart, err := f.Seek(0, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: tell: %v", ErrIOError, err)
	}

	offsets := make([]int64, k+1)
	for i, o := range offsets32 {
		offsets[i] = bitsStart + int64(o)
	}

	return &BitmapIndex{
		path:    name,
		vals:    vals,
		bits:    make([]*Bitvector, k),
		offsets: offsets,
		nrows:   nrows,
	}, nil
}
