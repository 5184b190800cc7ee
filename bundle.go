package fastbit

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
)

// Aggregator names a per-group reduction applied to an aggregate
// column, matching the AVG/SUM/VARPOP/... list of spec §4.7. Aggregates
// not in this list (e.g. MIN/MAX) simply keep the column's stored type
// and are represented here as AggFirst (take the first value in the
// group, used by callers for non-reducing "group representative"
// columns).
type Aggregator int

const (
	AggFirst Aggregator = iota
	AggSum
	AggAvg
	AggVarPop
	AggVarSamp
	AggStdPop
	AggStdSamp
)

// aggColumn is one aggregate projection column: its raw per-hit values
// (pre-grouping) and the reduction to apply per group.
type aggColumn struct {
	name   string
	values []float64
	agg    Aggregator
}

// Bundle is the post-query grouping/aggregation result described in
// spec §4.7, ported from ibis::bundle/bundle1/bundles in
// original_source/src/bundle.cpp. keys holds one []float64 per
// non-aggregate projection column (dictionary-coded text columns are
// represented by their codes, consistent with BitmapIndex's value
// domain); aggs holds the aggregate columns already reduced to one
// value per group; starts delimits group boundaries in the sorted,
// grouped row order; rids optionally carries the grouped row identifiers.
type Bundle struct {
	keyNames []string
	keys     [][]float64 // keys[col][group]
	aggs     []aggColumn // reduced in place: aggs[i].values has len(starts)-1
	starts   []uint32
	rids     []RID
}

// BuildBundle groups nHits rows by the tuple of values in keyCols (in
// listed order), reducing each column in aggCols by its Aggregator,
// matching the five build steps of spec §4.7. rids, if non-nil, must
// have length nHits and is reordered to track the final grouping.
func BuildBundle(keyNames []string, keyCols [][]float64, aggCols []aggColumn, rids []RID) (*Bundle, error) {
	nHits := 0
	if len(keyCols) > 0 {
		nHits = len(keyCols[0])
	} else if len(aggCols) > 0 {
		nHits = len(aggCols[0].values)
	}
	for _, col := range keyCols {
		if len(col) != nHits {
			return nil, fmt.Errorf("%w: bundle key column length mismatch", ErrArgument)
		}
	}

	order := make([]int, nHits)
	for i := range order {
		order[i] = i
	}

	if len(keyCols) == 0 {
		// no non-aggregate keys: the entire result is one group.
		starts := []uint32{0, uint32(nHits)}
		b := &Bundle{starts: starts}
		b.rids = reorderRIDs(rids, order)
		b.aggs = reduceAggregates(aggCols, order, starts)
		return b, nil
	}

	sort.SliceStable(order, func(a, c int) bool {
		for _, col := range keyCols {
			if col[a] != col[c] {
				return col[a] < col[c]
			}
		}
		return false
	})

	starts := runStarts(order, keyCols)

	b := &Bundle{keyNames: keyNames}
	b.keys = make([][]float64, len(keyCols))
	for ci, col := range keyCols {
		groupVals := make([]float64, len(starts)-1)
		for g := 0; g < len(starts)-1; g++ {
			groupVals[g] = col[order[starts[g]]]
		}
		b.keys[ci] = groupVals
	}
	b.starts = starts
	b.rids = reorderRIDs(rids, order)
	b.aggs = reduceAggregates(aggCols, order, starts)
	return b, nil
}

// runStarts computes run boundaries over order such that every run has
// identical key-tuples, matching "compute run-boundaries... recursively
// sort and re-segment by subsequent keys" (spec §4.7 step 3).
func runStarts(order []int, keyCols [][]float64) []uint32 {
	n := len(order)
	starts := []uint32{0}
	for i := 1; i < n; i++ {
		if !sameKey(order[i-1], order[i], keyCols) {
			starts = append(starts, uint32(i))
		}
	}
	starts = append(starts, uint32(n))
	return starts
}

func sameKey(a, b int, keyCols [][]float64) bool {
	for _, col := range keyCols {
		if col[a] != col[b] {
			return false
		}
	}
	return true
}

// reorderRIDs permutes rids by order, matching "RIDs, if present, are
// reordered to match the final group boundaries" (spec §4.7 step 5).
func reorderRIDs(rids []RID, order []int) []RID {
	if rids == nil {
		return nil
	}
	out := make([]RID, len(order))
	for i, idx := range order {
		out[i] = rids[idx]
	}
	return out
}

// reduceAggregates applies each aggregate column's Aggregator within
// every group delimited by starts, after reordering its raw values by
// order, matching spec §4.7 step 4.
func reduceAggregates(aggCols []aggColumn, order []int, starts []uint32) []aggColumn {
	out := make([]aggColumn, len(aggCols))
	for ci, col := range aggCols {
		reduced := make([]float64, len(starts)-1)
		for g := 0; g < len(starts)-1; g++ {
			lo, hi := starts[g], starts[g+1]
			vals := make([]float64, 0, hi-lo)
			for i := lo; i < hi; i++ {
				vals = append(vals, col.values[order[i]])
			}
			reduced[g] = applyAggregator(col.agg, vals)
		}
		out[ci] = aggColumn{name: col.name, values: reduced, agg: col.agg}
	}
	return out
}

func applyAggregator(agg Aggregator, vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	switch agg {
	case AggFirst:
		return vals[0]
	case AggSum:
		var s float64
		for _, v := range vals {
			s += v
		}
		return s
	case AggAvg:
		var s float64
		for _, v := range vals {
			s += v
		}
		return s / float64(len(vals))
	case AggVarPop, AggVarSamp, AggStdPop, AggStdSamp:
		mean := applyAggregator(AggAvg, vals)
		var ss float64
		for _, v := range vals {
			d := v - mean
			ss += d * d
		}
		n := float64(len(vals))
		var variance float64
		switch agg {
		case AggVarPop, AggStdPop:
			variance = ss / n
		default: // sample variants
			if n > 1 {
				variance = ss / (n - 1)
			}
		}
		if agg == AggStdPop || agg == AggStdSamp {
			return math.Sqrt(variance)
		}
		return variance
	default:
		return vals[0]
	}
}

// NumGroups returns the number of groups in the bundle.
func (b *Bundle) NumGroups() int {
	if len(b.starts) == 0 {
		return 0
	}
	return len(b.starts) - 1
}

// KeyNames returns the projection names of the bundle's non-aggregate
// columns, in the order passed to BuildBundle.
func (b *Bundle) KeyNames() []string {
	return b.keyNames
}

// GroupKey returns the key tuple for group g.
func (b *Bundle) GroupKey(g int) []float64 {
	out := make([]float64, len(b.keys))
	for i, col := range b.keys {
		out[i] = col[g]
	}
	return out
}

// AggregateValue returns the reduced value of aggregate column ci for
// group g.
func (b *Bundle) AggregateValue(ci, g int) float64 {
	return b.aggs[ci].values[g]
}

// Reorder re-sorts the groups by the key columns in keyList (by index
// into keyNames), in descending order if asked, matching
// bundle::reorder / ibis::bundles::reorder (spec §4.7 "Operations").
// Every key column and every group is kept: key columns not in keyList
// stay in the bundle, and groups that become equal under the keyList
// columns are not merged.
func (b *Bundle) Reorder(keyList []int, descending bool) {
	n := b.NumGroups()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, c int) bool {
		for _, ki := range keyList {
			va, vc := b.keys[ki][idx[a]], b.keys[ki][idx[c]]
			if va != vc {
				if descending {
					return va > vc
				}
				return va < vc
			}
		}
		return false
	})
	b.permuteGroups(idx)
}

// Reverse flips group order and re-threads starts, matching
// bundle1::reverse / bundles::reverse.
func (b *Bundle) Reverse() {
	n := b.NumGroups()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = n - 1 - i
	}
	b.permuteGroups(idx)
}

// Truncate keeps the first `keep` groups starting at `start`, trimming
// keys, aggs, starts, and rids consistently, matching
// bundle1::truncate(keep, start).
func (b *Bundle) Truncate(keep, start int) {
	n := b.NumGroups()
	if start < 0 {
		start = 0
	}
	if start+keep > n {
		keep = n - start
	}
	if keep < 0 {
		keep = 0
	}
	idx := make([]int, keep)
	for i := range idx {
		idx[i] = start + i
	}
	b.permuteGroups(idx)
}

// permuteGroups rebuilds keys, aggs, starts, and rids according to a
// new group order idx (a permutation or subset of [0, NumGroups())).
func (b *Bundle) permuteGroups(idx []int) {
	newKeys := make([][]float64, len(b.keys))
	for ci, col := range b.keys {
		nc := make([]float64, len(idx))
		for i, g := range idx {
			nc[i] = col[g]
		}
		newKeys[ci] = nc
	}

	newAggs := make([]aggColumn, len(b.aggs))
	for ci, col := range b.aggs {
		nc := make([]float64, len(idx))
		for i, g := range idx {
			nc[i] = col.values[g]
		}
		newAggs[ci] = aggColumn{name: col.name, values: nc, agg: col.agg}
	}

	newStarts := make([]uint32, len(idx)+1)
	var newRids []RID
	if b.rids != nil {
		newRids = make([]RID, 0, len(b.rids))
	}
	var cur uint32
	for i, g := range idx {
		newStarts[i] = cur
		lo, hi := b.starts[g], b.starts[g+1]
		cur += hi - lo
		if b.rids != nil {
			newRids = append(newRids, b.rids[lo:hi]...)
		}
	}
	newStarts[len(idx)] = cur

	b.keys = newKeys
	b.aggs = newAggs
	b.starts = newStarts
	b.rids = newRids
}

// RowCounts populates out with the number of rows in each group,
// matching bundle::rowCounts.
func (b *Bundle) RowCounts() []uint32 {
	out := make([]uint32, b.NumGroups())
	for g := range out {
		out[g] = b.starts[g+1] - b.starts[g]
	}
	return out
}

// ReadRIDs returns the RID set for group i by seeking into the rids
// slice using starts, matching bundle::readRIDs.
func (b *Bundle) ReadRIDs(i int) []RID {
	if b.rids == nil {
		logMessage(2, "bundle", "ReadRIDs(%d): bundle carries no RID column", i)
		return nil
	}
	lo, hi := b.starts[i], b.starts[i+1]
	return b.rids[lo:hi]
}

// SortRIDs canonically stable-sorts the RIDs within group g by their
// byte value, without touching the group's key/aggregate columns or
// its position among other groups. BuildBundle itself never calls
// this — its default contract preserves each group's input row order
// (see the Bundle stability invariant) — but a caller that wants a
// reproducible, value-ordered RID listing for diffing or display can
// invoke it explicitly, matching ibis::bundle::sortRIDs.
func (b *Bundle) SortRIDs(g int) {
	if b.rids == nil {
		return
	}
	lo, hi := b.starts[g], b.starts[g+1]
	sub := b.rids[lo:hi]
	sort.SliceStable(sub, func(a, c int) bool {
		ra, rc := sub[a], sub[c]
		for k := 0; k < len(ra); k++ {
			if ra[k] != rc[k] {
				return ra[k] < rc[k]
			}
		}
		return false
	})
}

// ReadRIDsFromDir reads just the RID set for group i out of a bundle
// previously persisted by Write, without reconstructing the whole
// Bundle: it reads the "bundles" file's header to find group i's row
// range in starts[], then seeks directly into the sibling "-rids" file
// for that range, matching ibis::bundle::readRIDs.
func ReadRIDsFromDir(bundlesPath string, i int) ([]RID, error) {
	f, err := os.Open(bundlesPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIOError, bundlesPath, err)
	}
	defer f.Close()

	var nGroups, nCols uint32
	if err := binary.Read(f, binary.LittleEndian, &nGroups); err != nil {
		return nil, fmt.Errorf("%w: read nGroups: %v", ErrIOError, err)
	}
	if err := binary.Read(f, binary.LittleEndian, &nCols); err != nil {
		return nil, fmt.Errorf("%w: read nCols: %v", ErrIOError, err)
	}
	if i < 0 || uint32(i) >= nGroups {
		return nil, fmt.Errorf("%w: group %d out of range [0,%d)", ErrArgument, i, nGroups)
	}

	elemSizes := make([]uint32, nCols)
	if err := binary.Read(f, binary.LittleEndian, elemSizes); err != nil {
		return nil, fmt.Errorf("%w: read elementSize: %v", ErrIOError, err)
	}
	var colBytes int64
	for _, sz := range elemSizes {
		colBytes += int64(sz) * int64(nGroups)
	}
	if _, err := f.Seek(colBytes, 1); err != nil {
		return nil, fmt.Errorf("%w: seek past columns: %v", ErrIOError, err)
	}

	starts := make([]uint32, nGroups+1)
	if err := binary.Read(f, binary.LittleEndian, starts); err != nil {
		return nil, fmt.Errorf("%w: read starts: %v", ErrIOError, err)
	}

	lo, hi := starts[i], starts[i+1]
	ridPath := bundlesPath + "-rids"
	rf, err := os.Open(ridPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIOError, ridPath, err)
	}
	defer rf.Close()
	off, _ := ridRangeOffsets(lo, hi)
	if _, err := rf.Seek(off, 0); err != nil {
		return nil, fmt.Errorf("%w: seek rids: %v", ErrIOError, err)
	}
	return ReadRIDs(rf, int(hi-lo))
}

// ReadRIDAtFromDir returns just the j'th RID within group i's range,
// seeking directly to it via ReaderAt rather than reading the whole
// group's RID run, matching ibis::bundle::readRID's single-row variant
// (spec §4.7).
func ReadRIDAtFromDir(bundlesPath string, i int, j uint32) (RID, error) {
	f, err := os.Open(bundlesPath)
	if err != nil {
		return RID{}, fmt.Errorf("%w: open %s: %v", ErrIOError, bundlesPath, err)
	}
	defer f.Close()

	var nGroups, nCols uint32
	if err := binary.Read(f, binary.LittleEndian, &nGroups); err != nil {
		return RID{}, fmt.Errorf("%w: read nGroups: %v", ErrIOError, err)
	}
	if err := binary.Read(f, binary.LittleEndian, &nCols); err != nil {
		return RID{}, fmt.Errorf("%w: read nCols: %v", ErrIOError, err)
	}
	if i < 0 || uint32(i) >= nGroups {
		return RID{}, fmt.Errorf("%w: group %d out of range [0,%d)", ErrArgument, i, nGroups)
	}

	elemSizes := make([]uint32, nCols)
	if err := binary.Read(f, binary.LittleEndian, elemSizes); err != nil {
		return RID{}, fmt.Errorf("%w: read elementSize: %v", ErrIOError, err)
	}
	var colBytes int64
	for _, sz := range elemSizes {
		colBytes += int64(sz) * int64(nGroups)
	}
	if _, err := f.Seek(colBytes, 1); err != nil {
		return RID{}, fmt.Errorf("%w: seek past columns: %v", ErrIOError, err)
	}

	starts := make([]uint32, nGroups+1)
	if err := binary.Read(f, binary.LittleEndian, starts); err != nil {
		return RID{}, fmt.Errorf("%w: read starts: %v", ErrIOError, err)
	}

	lo, hi := starts[i], starts[i+1]
	if lo+j >= hi {
		return RID{}, fmt.Errorf("%w: rid %d out of range [0,%d) for group %d", ErrArgument, j, hi-lo, i)
	}

	ridPath := bundlesPath + "-rids"
	rf, err := os.Open(ridPath)
	if err != nil {
		return RID{}, fmt.Errorf("%w: open %s: %v", ErrIOError, ridPath, err)
	}
	defer rf.Close()
	return ridAt(rf, int64(lo+j))
}

// Write persists the bundle to the "bundles" file format of spec §4.7:
// uint32 nGroups; uint32 nCols; uint32 elementSize[nCols]; column
// value blocks; uint32 starts[nGroups+1]. Key columns are written
// before aggregate columns. A sibling "<name>-rids" file holds the
// grouped RID stream when rids is present.
func (b *Bundle) Write(name string) error {
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

	nGroups := uint32(b.NumGroups())
	nCols := uint32(len(b.keys) + len(b.aggs))
	if err := binary.Write(w, binary.LittleEndian, nGroups); err != nil {
		return fmt.Errorf("%w: write nGroups: %v", ErrIOError, err)
	}
	if err := binary.Write(w, binary.LittleEndian, nCols); err != nil {
		return fmt.Errorf("%w: write nCols: %v", ErrIOError, err)
	}
	elemSizes := make([]uint32, nCols)
	for i := range elemSizes {
		elemSizes[i] = 8 // all columns here are float64
	}
	if err := binary.Write(w, binary.LittleEndian, elemSizes); err != nil {
		return fmt.Errorf("%w: write elementSize: %v", ErrIOError, err)
	}

	for _, col := range b.keys {
		if err := binary.Write(w, binary.LittleEndian, col); err != nil {
			return fmt.Errorf("%w: write key column: %v", ErrIOError, err)
		}
	}
	for _, col := range b.aggs {
		if err := binary.Write(w, binary.LittleEndian, col.values); err != nil {
			return fmt.Errorf("%w: write aggregate column: %v", ErrIOError, err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, b.starts); err != nil {
		return fmt.Errorf("%w: write starts: %v", ErrIOError, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrIOError, err)
	}
	ok = true

	if b.rids != nil {
		ridPath := name + "-rids"
		rf, err := os.Create(ridPath)
		if err != nil {
			return fmt.Errorf("%w: create %s: %v", ErrIOError, ridPath, err)
		}
		werr := WriteRIDs(rf, b.rids)
		cerr := rf.Close()
		if werr != nil {
			os.Remove(ridPath)
			return fmt.Errorf("%w: write rids: %v", ErrIOError, werr)
		}
		if cerr != nil {
			os.Remove(ridPath)
			return fmt.Errorf("%w: close rids: %v", ErrIOError, cerr)
		}
	}
	return nil
}
