package fastbit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDictionaryInsertAndLookup(t *testing.T) {
	t.Parallel()
	d := NewDictionary()
	c1 := d.Insert("apple")
	c2 := d.Insert("banana")
	c3 := d.Insert("apple")

	require.Equal(t, c1, c3, "re-inserting an existing string should return the same code")
	require.NotEqual(t, c1, c2, "distinct strings must get distinct codes")
	require.Equal(t, "apple", d.String(c1))
	require.Equal(t, c2, d.Code("banana"))
	require.Equal(t, uint32(d.Size()+1), d.Code("cherry"), "unknown non-empty string looks up as N+1")
	require.Equal(t, uint32(0), d.Code(""), "NULL/empty string looks up as the reserved code 0")
}

func TestDictionaryScenarioCodesAreOneIndexed(t *testing.T) {
	t.Parallel()
	d := NewDictionary()
	cAlpha := d.Insert("alpha")
	cBeta := d.Insert("beta")
	cAlpha2 := d.Insert("alpha")
	cGamma := d.Insert("gamma")

	require.Equal(t, uint32(1), cAlpha)
	require.Equal(t, uint32(2), cBeta)
	require.Equal(t, cAlpha, cAlpha2)
	require.Equal(t, uint32(3), cGamma)

	o2n := d.Sort()
	require.Equal(t, []uint32{0, 1, 2, 3}, o2n)

	cAardvark := d.Insert("aardvark")
	require.Equal(t, uint32(4), cAardvark)

	o2n = d.Sort()
	require.Equal(t, uint32(1), o2n[4])
	require.Equal(t, uint32(2), o2n[1])
	require.Equal(t, uint32(3), o2n[2])
	require.Equal(t, uint32(4), o2n[3])
	require.Equal(t, uint32(2), d.Code("alpha"))
}

func TestDictionarySortReturnsPermutation(t *testing.T) {
	t.Parallel()
	d := NewDictionary()
	cBanana := d.Insert("banana")
	cApple := d.Insert("apple")
	cCherry := d.Insert("cherry")

	o2n := d.Sort()

	require.Equal(t, "apple", d.String(o2n[cApple]))
	require.Equal(t, "banana", d.String(o2n[cBanana]))
	require.Equal(t, "cherry", d.String(o2n[cCherry]))
	require.Equal(t, []string{"", "apple", "banana", "cherry"}, d.raw)
}

func TestDictionaryMergeAndMorph(t *testing.T) {
	t.Parallel()
	a := NewDictionary()
	a.Insert("x")
	a.Insert("y")

	b := NewDictionary()
	b.Insert("y")
	b.Insert("z")

	merged := NewDictionary()
	merged.Merge(a)
	merged.Merge(b)

	require.Equal(t, 3, merged.Size())

	morphed := merged.Morph(b)
	require.Equal(t, "", merged.String(morphed[0]), "b's reserved NULL slot morphs to merged's reserved NULL slot")
	require.Equal(t, "y", merged.String(morphed[1]))
	require.Equal(t, "z", merged.String(morphed[2]))
}

func TestDictionaryEqual(t *testing.T) {
	t.Parallel()
	a := NewDictionary()
	a.Insert("one")
	a.Insert("two")

	b := NewDictionary()
	b.Insert("one")
	b.Insert("two")

	c := NewDictionary()
	c.Insert("one")
	c.Insert("three")

	require.True(t, a.Equal(b), "expected a == b")
	require.False(t, a.Equal(c), "expected a != c")
}

func TestDictionaryPatternSearch(t *testing.T) {
	t.Parallel()
	d := NewDictionary()
	for _, s := range []string{"alpha", "alpine", "beta", "gamma"} {
		d.Insert(s)
	}

	tests := []struct {
		pat  string
		want []string
	}{
		{"al%", []string{"alpha", "alpine"}},
		{"a_pha", []string{"alpha"}},
		{"*a", []string{"alpha", "beta", "gamma"}},
		{"zzz", nil},
	}
	for _, tc := range tests {
		codes := d.PatternSearch(tc.pat)
		var got []string
		for _, c := range codes {
			got = append(got, d.String(c))
		}
		require.ElementsMatch(t, tc.want, got, "PatternSearch(%q)", tc.pat)
	}
}

func TestDictionaryWriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "dict.bin")

	d := NewDictionary()
	for _, s := range []string{"alpha", "beta", "gamma"} {
		d.Insert(s)
	}
	require.NoError(t, d.Write(path))

	got, err := ReadDictionary(path)
	require.NoError(t, err)
	require.True(t, d.Equal(got), "round-tripped dictionary does not match")
}

func TestStrMatchMetacharacters(t *testing.T) {
	t.Parallel()
	tests := []struct {
		str, pat string
		want     bool
	}{
		{"hello", "hello", true},
		{"hello", "h%o", true},
		{"hello", "h_llo", true},
		{"hello", "h_lo", false},
		{"hello", "*llo", true},
		{"hello", "?ello", true},
		{"a.b", `a\.b`, true},
		{"aXb", `a\.b`, false},
		{"", "", true},
		{"x", "", false},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, strMatch(tc.str, tc.pat), "strMatch(%q, %q)", tc.str, tc.pat)
	}
}
