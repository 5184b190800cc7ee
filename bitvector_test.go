package fastbit

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitvectorSetAndCnt(t *testing.T) {
	t.Parallel()
	bv := NewBitvector(100)
	bv.Set(3, 1)
	bv.Set(50, 1)
	bv.Set(99, 1)

	require.Equal(t, uint64(3), bv.Cnt())
	require.True(t, bv.Contains(50), "expected bit 50 set")
	require.False(t, bv.Contains(51), "expected bit 51 clear")
}

func TestBitvectorGrowsSizeOnSet(t *testing.T) {
	t.Parallel()
	bv := NewBitvector(10)
	bv.Set(42, 1)
	require.Equal(t, uint32(43), bv.Size())
}

func TestBitvectorFromWords(t *testing.T) {
	t.Parallel()
	words := []uint64{0b1011, 0b1}
	bv := NewBitvectorFromWords(words, 70)

	for _, bit := range []uint32{0, 1, 3, 64} {
		require.True(t, bv.Contains(bit), "expected bit %d set", bit)
	}
	require.False(t, bv.Contains(2), "expected bit 2 clear")
	require.Equal(t, uint32(70), bv.Size())
}

func TestBitvectorBitwiseOps(t *testing.T) {
	t.Parallel()
	a := NewBitvector(10)
	a.Set(1, 1)
	a.Set(2, 1)
	b := NewBitvector(10)
	b.Set(2, 1)
	b.Set(3, 1)

	or := a.Copy()
	or.Or(b)
	require.Equal(t, uint64(3), or.Cnt())

	and := a.Copy()
	and.And(b)
	require.Equal(t, uint64(1), and.Cnt())
	require.True(t, and.Contains(2))

	sub := a.Copy()
	sub.AndNot(b)
	require.Equal(t, uint64(1), sub.Cnt())
	require.True(t, sub.Contains(1))
}

func TestBitvectorSetSizeShrinks(t *testing.T) {
	t.Parallel()
	bv := NewBitvector(100)
	bv.Set(80, 1)
	bv.SetSize(50)
	require.False(t, bv.Contains(80), "expected bit 80 dropped after shrink")
	require.Equal(t, uint32(50), bv.Size())
}

func TestBitvectorRoundTrip(t *testing.T) {
	t.Parallel()
	bv := NewBitvector(1000)
	for _, bit := range []uint32{0, 7, 500, 999} {
		bv.Set(bit, 1)
	}

	var buf bytes.Buffer
	_, err := bv.WriteTo(&buf)
	require.NoError(t, err)

	got, err := bitvectorFromBytes(buf.Bytes())
	require.NoError(t, err)
	require.True(t, EqualBitvector(bv, got), "round-tripped bitvector does not match original")
}
