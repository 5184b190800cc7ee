package fastbit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func bigColumn(n int) ([]uint32, []float64) {
	rows := make([]uint32, n)
	vals := make([]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = uint32(i)
		vals[i] = float64(i % 50) // 50 distinct values, >= minCoarseK
	}
	return rows, vals
}

func TestNewCoarseBitmapRejectsSmallIndex(t *testing.T) {
	t.Parallel()
	rows, vals := bigColumn(10)
	// force only a handful of distinct values
	for i := range vals {
		vals[i] = float64(i % 5)
	}
	base := BuildBitmapIndex(rows, vals, uint32(len(vals)))
	_, ok := NewCoarseBitmap(base, CoarseZona, 0)
	require.False(t, ok, "expected NewCoarseBitmap to reject K < %d", minCoarseK)
}

func TestCoarseBitmapBuildsAndEvaluatesBylt(t *testing.T) {
	t.Parallel()
	rows, vals := bigColumn(500)
	base := BuildBitmapIndex(rows, vals, uint32(len(vals)))

	cb, ok := BuildBylt(base, "")
	require.True(t, ok, "expected BuildBylt to succeed with K=%d", base.K())
	require.Len(t, cb.cbits, cb.numCbits())

	want, err := base.Evaluate(RangePredicate{Left: 10, LeftOp: CompGE, Right: 20, RightOp: CompLT})
	require.NoError(t, err)
	got, err := cb.Evaluate(RangePredicate{Left: 10, LeftOp: CompGE, Right: 20, RightOp: CompLT})
	require.NoError(t, err)
	require.True(t, EqualBitvector(want, got), "CoarseBitmap(bylt).Evaluate disagrees with base BitmapIndex.Evaluate")
}

func TestCoarseBitmapFuzzMatchesBase(t *testing.T) {
	t.Parallel()
	rows, vals := bigColumn(500)
	base := BuildBitmapIndex(rows, vals, uint32(len(vals)))

	cb, ok := BuildFuzz(base, "ncoarse=12")
	require.True(t, ok, "expected BuildFuzz to succeed")

	want, err := base.Evaluate(RangePredicate{Left: 20, LeftOp: CompGE, Right: 30, RightOp: CompLE})
	require.NoError(t, err)
	got, err := cb.Evaluate(RangePredicate{Left: 20, LeftOp: CompGE, Right: 30, RightOp: CompLE})
	require.NoError(t, err)
	require.True(t, EqualBitvector(want, got), "CoarseBitmap(fuzz).Evaluate disagrees with base BitmapIndex.Evaluate")
}

func TestCoarseBitmapZonaGroupsAreDisjoint(t *testing.T) {
	t.Parallel()
	rows, vals := bigColumn(500)
	base := BuildBitmapIndex(rows, vals, uint32(len(vals)))

	cb, ok := BuildZona(base, "")
	require.True(t, ok, "expected BuildZona to succeed")

	for j := 0; j < cb.numCbits(); j++ {
		lo, hi := cb.groupRange(j)
		require.Less(t, lo, hi, "zona group %d is empty: [%d,%d)", j, lo, hi)
		if j > 0 {
			_, prevHi := cb.groupRange(j - 1)
			require.Equal(t, lo, prevHi, "zona groups not contiguous/disjoint at %d", j)
		}
	}
}

func TestCoarseBitmapWriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	rows, vals := bigColumn(500)
	base := BuildBitmapIndex(rows, vals, uint32(len(vals)))
	cb, ok := BuildBylt(base, "")
	require.True(t, ok, "expected BuildBylt to succeed")

	dir := t.TempDir()
	path := dir + "/coarse.idx"
	require.NoError(t, cb.Write(path))

	got, err := ReadBitmapIndex(path)
	require.NoError(t, err)
	require.Equal(t, base.K(), got.K())
}
