package fastbit

// This file defines the minimal seams BitmapIndex needs into its
// out-of-scope collaborators (the query parser, selectClause/qExpr,
// column, and part types named in spec §1's Non-goals). Callers
// embedding this package into a larger query engine provide their own
// implementations; nothing here constructs or resolves them.

// Comparator enumerates the relational operators a RangePredicate may
// carry on each side, matching the "{<, ≤, >, ≥, =, ≠}" set in spec
// §4.5's locate() contract.
type Comparator int

const (
	CompNone Comparator = iota
	CompLT
	CompLE
	CompGT
	CompGE
	CompEQ
	CompNE
)

// RangePredicate is a continuous range condition with independent
// comparators on its left and right bound, e.g. "3 < x <= 9" is
// {Left: 3, LeftOp: CompLT, Right: 9, RightOp: CompLE}. A bound with
// CompNone is open on that side.
type RangePredicate struct {
	Left    float64
	LeftOp  Comparator
	Right   float64
	RightOp Comparator
}

// EqualityPredicate is the degenerate "= v" / "<> v" case.
type EqualityPredicate struct {
	Value float64
	Equal bool // false means "<> v"
}

// JoinExpr re-evaluates a comp-join's delta for a given left-hand value,
// standing in for ibis::compRange's expression evaluator (spec §4.5
// compJoin). Implementations that cannot evaluate a given value should
// return ok=false so the caller falls back to a part-level scan.
type JoinExpr func(v float64) (delta float64, ok bool)

// PartScanner is the fallback join evaluator over the parent `part`
// object (spec §4.5: "All join functions fall back to a scan on the
// parent part when they cannot evaluate"). It is never implemented by
// this package; callers that want fallback behavior supply one.
type PartScanner interface {
	ScanEquiJoin(selfCol, otherCol string, mask *Bitvector) (*Bitvector, error)
	ScanRangeJoin(selfCol, otherCol string, mask *Bitvector, delta float64) (*Bitvector, error)
	ScanCompJoin(selfCol, otherCol string, mask *Bitvector, expr JoinExpr) (*Bitvector, error)
}
