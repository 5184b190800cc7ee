package fastbit

// BuildZona constructs the equality-equality coarse refinement (spec
// §4.6): cbits[j] is the union of a disjoint group bits[cbounds[j]..
// cbounds[j+1]), so every fine bitmap belongs to exactly one coarse
// group.
func BuildZona(base *BitmapIndex, indexSpec string) (*CoarseBitmap, bool) {
	n, ok := ncoarseFromIndexSpec(indexSpec)
	if !ok {
		n = defaultNcoarse(CoarseZona)
	}
	return NewCoarseBitmap(base, CoarseZona, n)
}
