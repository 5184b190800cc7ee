package fastbit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func rowIDRange(n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(i)
	}
	return out
}

func TestBuildBitmapIndexScenario(t *testing.T) {
	t.Parallel()
	values := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3}
	idx := BuildBitmapIndex(rowIDRange(len(values)), values, uint32(len(values)))

	wantVals := []float64{1, 2, 3, 4, 5, 6, 9}
	require.Equal(t, wantVals, idx.Vals())

	wantBits := map[float64][]uint32{
		1: {1, 3},
		2: {6},
		3: {0, 9},
		4: {2},
		5: {4, 8},
		6: {7},
		9: {5},
	}
	for i, v := range idx.vals {
		bv, err := idx.activate(i)
		require.NoError(t, err)
		require.Equal(t, wantBits[v], bv.ToArray(), "bits for value %v", v)
	}

	hits, err := idx.Evaluate(RangePredicate{Left: 5, LeftOp: CompGE})
	require.NoError(t, err)
	require.Equal(t, []uint32{4, 5, 7, 8}, hits.ToArray())
}

func TestBitmapIndexLocateEquality(t *testing.T) {
	t.Parallel()
	values := []float64{1, 2, 3, 4, 5}
	idx := BuildBitmapIndex(rowIDRange(len(values)), values, uint32(len(values)))

	lo, hi := idx.Locate(RangePredicate{Left: 3, LeftOp: CompEQ})
	require.Equal(t, 2, lo)
	require.Equal(t, 3, hi)

	lo, hi = idx.Locate(RangePredicate{Left: 10, LeftOp: CompEQ})
	require.Equal(t, lo, hi, "Locate(=10) should be empty")
}

func TestBitmapIndexEvaluateEquality(t *testing.T) {
	t.Parallel()
	values := []float64{1, 2, 3, 2}
	idx := BuildBitmapIndex(rowIDRange(len(values)), values, uint32(len(values)))

	hits, err := idx.EvaluateEquality(EqualityPredicate{Value: 2, Equal: true})
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 3}, hits.ToArray())

	hits, err = idx.EvaluateEquality(EqualityPredicate{Value: 2, Equal: false})
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 2}, hits.ToArray())
}

func TestBitmapIndexEvaluateNotEqual(t *testing.T) {
	t.Parallel()
	values := []float64{1, 2, 3}
	idx := BuildBitmapIndex(rowIDRange(len(values)), values, uint32(len(values)))

	hits, err := idx.Evaluate(RangePredicate{Left: 2, LeftOp: CompNE})
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 2}, hits.ToArray())
}

func TestBitmapIndexEmptyColumn(t *testing.T) {
	t.Parallel()
	idx := BuildBitmapIndex(nil, nil, 0)
	require.Equal(t, 0, idx.K())
	hits, err := idx.Evaluate(RangePredicate{LeftOp: CompGE, Left: 0})
	require.NoError(t, err)
	require.Zero(t, hits.Cnt(), "expected empty result on empty index")
}

func TestBitmapIndexWriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "index.bin")

	values := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3}
	idx := BuildBitmapIndex(rowIDRange(len(values)), values, uint32(len(values)))
	require.NoError(t, idx.Write(path))

	got, err := ReadBitmapIndex(path)
	require.NoError(t, err)
	require.Equal(t, idx.Vals(), got.Vals())
	for i := range idx.vals {
		want, err := idx.activate(i)
		require.NoError(t, err)
		gotBits, err := got.activate(i)
		require.NoError(t, err)
		require.True(t, EqualBitvector(want, gotBits), "bits[%d] mismatch after round-trip", i)
	}
}

func TestBitmapIndexEquiJoin(t *testing.T) {
	t.Parallel()
	left := BuildBitmapIndex([]uint32{0, 1, 2}, []float64{1, 2, 3}, 3)
	right := BuildBitmapIndex([]uint32{0, 1, 2}, []float64{2, 3, 4}, 3)

	hits, err := left.EquiJoin(right, nil)
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2}, hits.ToArray())
}

func TestBitmapIndexRangeJoin(t *testing.T) {
	t.Parallel()
	left := BuildBitmapIndex([]uint32{0, 1}, []float64{10, 20}, 2)
	right := BuildBitmapIndex([]uint32{0, 1, 2}, []float64{9, 21, 50}, 3)

	hits, err := left.RangeJoin(right, nil, 1.5)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1}, hits.ToArray())
}

// stubPartScanner records the calls CompJoin falls back to and always
// returns a fixed bitmap, just enough to exercise the fallback wiring.
type stubPartScanner struct {
	calls  int
	selfCol, otherCol string
	mask   *Bitvector
	result *Bitvector
}

func (s *stubPartScanner) ScanEquiJoin(selfCol, otherCol string, mask *Bitvector) (*Bitvector, error) {
	return s.result, nil
}

func (s *stubPartScanner) ScanRangeJoin(selfCol, otherCol string, mask *Bitvector, delta float64) (*Bitvector, error) {
	return s.result, nil
}

func (s *stubPartScanner) ScanCompJoin(selfCol, otherCol string, mask *Bitvector, expr JoinExpr) (*Bitvector, error) {
	s.calls++
	s.selfCol, s.otherCol = selfCol, otherCol
	s.mask = mask
	return s.result, nil
}

func TestBitmapIndexCompJoinFallsBackToPartScanner(t *testing.T) {
	t.Parallel()
	left := BuildBitmapIndex([]uint32{0, 1, 2}, []float64{10, 20, 30}, 3)
	right := BuildBitmapIndex([]uint32{0, 1}, []float64{20, 30}, 2)

	fallbackResult := NewBitvector(3)
	fallbackResult.Set(2, 1)
	scanner := &stubPartScanner{result: fallbackResult}
	left.SetScanner(scanner, "lhs", "rhs")

	// expr can only evaluate v==20; every other value reports ok=false
	// and must fall back to the scanner instead of being silently
	// skipped.
	expr := func(v float64) (float64, bool) {
		if v == 20 {
			return 0, true
		}
		return 0, false
	}

	hits, err := left.CompJoin(right, nil, expr)
	require.NoError(t, err)
	require.Equal(t, 1, scanner.calls, "expected exactly one fallback scan for the unevaluable rows")
	require.Equal(t, "lhs", scanner.selfCol)
	require.Equal(t, "rhs", scanner.otherCol)
	require.Equal(t, []uint32{0, 2}, scanner.mask.ToArray(), "fallback mask should cover rows whose value expr could not evaluate")
	require.Contains(t, hits.ToArray(), uint32(2), "fallback result must be folded into the final hits")
}
