package fastbit

// BuildBylt constructs the range-equality coarse refinement (spec
// §4.6): cbits[j] is the union of bits[0..cbounds[j+1]), i.e. a prefix
// sum, so any range query can be answered as the difference of two
// prefix unions plus a small fine-grained remainder. indexSpec is the
// column's raw index-spec string (e.g. "ncoarse=20"); an empty or
// non-matching spec falls back to the variant default of 16.
func BuildBylt(base *BitmapIndex, indexSpec string) (*CoarseBitmap, bool) {
	n, ok := ncoarseFromIndexSpec(indexSpec)
	if !ok {
		n = defaultNcoarse(CoarseBylt)
	}
	return NewCoarseBitmap(base, CoarseBylt, n)
}
