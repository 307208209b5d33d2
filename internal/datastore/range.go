package datastore

import (
	"github.com/roach88/tablet/internal/ir"
)

// Range selects index keys by their leading column.
//
// Between is inclusive on both ends. A bound equal to the minimum or maximum
// of its integer type leaves that side unbounded, so Between(U32(0),
// U32(math.MaxUint32)) matches every row. Point matches exactly one value and
// never treats its value as a sentinel.
type Range struct {
	lo, hi ir.Value
	point  bool
}

// Point matches keys equal to v.
func Point(v ir.Value) Range {
	return Range{lo: v, hi: v, point: true}
}

// Between matches keys in [lo, hi]. A nil bound is unbounded.
func Between(lo, hi ir.Value) Range {
	return Range{lo: lo, hi: hi}
}

// All matches every key.
func All() Range {
	return Range{}
}

// lower returns the inclusive lower bound, if any.
func (r Range) lower() (ir.Value, bool) {
	if r.lo == nil || (!r.point && ir.IsMin(r.lo)) {
		return nil, false
	}
	return r.lo, true
}

// upper returns the inclusive upper bound, if any.
func (r Range) upper() (ir.Value, bool) {
	if r.hi == nil || (!r.point && ir.IsMax(r.hi)) {
		return nil, false
	}
	return r.hi, true
}

// Contains reports whether v falls inside the range.
func (r Range) Contains(v ir.Value) bool {
	if lo, ok := r.lower(); ok && ir.Compare(v, lo) < 0 {
		return false
	}
	if hi, ok := r.upper(); ok && ir.Compare(v, hi) > 0 {
		return false
	}
	return true
}

// Bounds returns the range's bound values, nil when absent. Used by callers
// that need to check the bound types against a column.
func (r Range) Bounds() (lo, hi ir.Value) {
	return r.lo, r.hi
}

// above reports whether v lies past the upper bound.
func (r Range) above(v ir.Value) bool {
	hi, ok := r.upper()
	return ok && ir.Compare(v, hi) > 0
}
