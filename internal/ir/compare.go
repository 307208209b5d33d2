package ir

import (
	"cmp"
	"math"
	"strings"
)

// Compare orders two values. Values of different kinds order by kind;
// within a kind the order is the natural one (numeric, byte-wise for
// strings, variant index for enums, lexicographic for structs and vecs,
// absent before present for options). Floats use a total order with NaN last.
func Compare(a, b Value) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if a.Kind() != b.Kind() {
		return cmp.Compare(a.Kind(), b.Kind())
	}

	switch x := a.(type) {
	case Bool:
		y := b.(Bool)
		switch {
		case x == y:
			return 0
		case !bool(x):
			return -1
		default:
			return 1
		}
	case U8:
		return cmp.Compare(x, b.(U8))
	case U16:
		return cmp.Compare(x, b.(U16))
	case U32:
		return cmp.Compare(x, b.(U32))
	case U64:
		return cmp.Compare(x, b.(U64))
	case U128:
		y := b.(U128)
		if c := cmp.Compare(x.Hi, y.Hi); c != 0 {
			return c
		}
		return cmp.Compare(x.Lo, y.Lo)
	case I8:
		return cmp.Compare(x, b.(I8))
	case I16:
		return cmp.Compare(x, b.(I16))
	case I32:
		return cmp.Compare(x, b.(I32))
	case I64:
		return cmp.Compare(x, b.(I64))
	case F32:
		return compareFloat(float64(x), float64(b.(F32)))
	case F64:
		return compareFloat(float64(x), float64(b.(F64)))
	case String:
		return strings.Compare(string(x), string(b.(String)))
	case Enum:
		return cmp.Compare(x.Tag, b.(Enum).Tag)
	case Struct:
		return compareSeq(x, b.(Struct))
	case Vec:
		return compareSeq(x, b.(Vec))
	case Option:
		y := b.(Option)
		switch {
		case x.Some == nil && y.Some == nil:
			return 0
		case x.Some == nil:
			return -1
		case y.Some == nil:
			return 1
		}
		return Compare(x.Some, y.Some)
	case ScheduleAt:
		y := b.(ScheduleAt)
		if x.Interval != y.Interval {
			if x.Interval {
				return -1
			}
			return 1
		}
		return cmp.Compare(x.Micros, y.Micros)
	}
	return 0
}

func compareSeq(a, b []Value) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

// compareFloat orders NaN after every other value.
func compareFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	}
	return cmp.Compare(a, b)
}

// Equal reports structural equality.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}
