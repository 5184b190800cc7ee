package fastbit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypedArrayPushBackAndAt(t *testing.T) {
	t.Parallel()
	a := NewTypedArray[int32]()
	a.PushBack(3)
	a.PushBack(1)
	a.PushBack(2)

	require.Equal(t, 3, a.Len())
	require.Equal(t, int32(3), a.At(0))
	require.Equal(t, int32(2), a.At(2))
}

func TestTypedArraySort(t *testing.T) {
	t.Parallel()
	a := NewTypedArrayFromSlice([]int32{5, 3, 4, 1, 2})
	a.Sort()
	require.Equal(t, []int32{1, 2, 3, 4, 5}, a.Slice())
}

func TestTypedArraySortIndexLeavesArrayUntouched(t *testing.T) {
	t.Parallel()
	a := NewTypedArrayFromSlice([]int32{5, 3, 4})
	ind := a.SortIndex()
	require.Equal(t, []uint32{1, 2, 0}, ind)
	require.Equal(t, []int32{5, 3, 4}, a.Slice(), "SortIndex mutated the array")
}

func TestTypedArrayTopKAndBottomK(t *testing.T) {
	t.Parallel()
	a := NewTypedArrayFromSlice([]int32{5, 3, 9, 1, 7})

	top := a.TopK(2)
	require.Len(t, top, 2)
	require.Equal(t, int32(9), a.At(int(top[0])))
	require.Equal(t, int32(7), a.At(int(top[1])))

	bottom := a.BottomK(2)
	require.Len(t, bottom, 2)
	require.Equal(t, int32(1), a.At(int(bottom[0])))
	require.Equal(t, int32(3), a.At(int(bottom[1])))
}

func TestTypedArrayFindOnSortedArray(t *testing.T) {
	t.Parallel()
	a := NewTypedArrayFromSlice([]int32{1, 3, 5, 7, 9})
	require.Equal(t, 2, a.Find(5))
	require.Equal(t, -1, a.Find(6))
	require.Equal(t, 3, a.FindUpper(5))
}

func TestTypedArrayDeduplicate(t *testing.T) {
	t.Parallel()
	a := NewTypedArrayFromSlice([]int32{1, 1, 2, 2, 2, 3})
	a.Deduplicate()
	require.Equal(t, []int32{1, 2, 3}, a.Slice())
}

func TestTypedArrayViewNosharing(t *testing.T) {
	t.Parallel()
	base := NewTypedArrayFromSlice([]int32{1, 2, 3, 4, 5})
	view := NewTypedArrayView(base, 1, 4)

	require.Equal(t, []int32{2, 3, 4}, view.Slice())

	view.PushBack(99)
	require.Equal(t, int32(99), view.At(3), "expected push back to land after nosharing copy")
	require.Equal(t, int32(5), base.At(4), "mutating the view should not affect the base array after Nosharing")
}

func TestTypedArrayTruncate(t *testing.T) {
	t.Parallel()
	a := NewTypedArrayFromSlice([]int32{0, 1, 2, 3, 4, 5})
	a.Truncate(3, 2)
	require.Equal(t, []int32{2, 3, 4}, a.Slice())
}

func TestTypedArrayEqualTo(t *testing.T) {
	t.Parallel()
	a := NewTypedArrayFromSlice([]int32{1, 2, 3})
	b := NewTypedArrayFromSlice([]int32{1, 2, 3})
	c := NewTypedArrayFromSlice([]int32{1, 2, 4})

	require.True(t, a.EqualTo(b), "expected a == b")
	require.False(t, a.EqualTo(c), "expected a != c")
}
