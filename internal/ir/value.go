package ir

import (
	"fmt"
	"math"
	"math/big"
	"time"
	"unicode/utf8"
)

// Value is a sealed interface over the concrete value types below.
type Value interface {
	Kind() Kind
	value() // Sealed - only types in this package implement it
}

type (
	Bool   bool
	U8     uint8
	U16    uint16
	U32    uint32
	U64    uint64
	I8     int8
	I16    int16
	I32    int32
	I64    int64
	F32    float32
	F64    float64
	String string
)

// U128 is an unsigned 128-bit integer split into two halves.
type U128 struct {
	Hi uint64
	Lo uint64
}

// Enum carries the variant index of an enum value.
type Enum struct {
	Tag int
}

// Struct holds field values in declaration order.
type Struct []Value

// Option is present when Some is non-nil.
type Option struct {
	Some Value
}

// Vec is an ordered, possibly empty sequence.
type Vec []Value

// ScheduleAt is either a repeating interval or a point in time,
// both measured in microseconds.
type ScheduleAt struct {
	Interval bool
	Micros   int64
}

func (Bool) Kind() Kind       { return KindBool }
func (U8) Kind() Kind         { return KindU8 }
func (U16) Kind() Kind        { return KindU16 }
func (U32) Kind() Kind        { return KindU32 }
func (U64) Kind() Kind        { return KindU64 }
func (U128) Kind() Kind       { return KindU128 }
func (I8) Kind() Kind         { return KindI8 }
func (I16) Kind() Kind        { return KindI16 }
func (I32) Kind() Kind        { return KindI32 }
func (I64) Kind() Kind        { return KindI64 }
func (F32) Kind() Kind        { return KindF32 }
func (F64) Kind() Kind        { return KindF64 }
func (String) Kind() Kind     { return KindString }
func (Enum) Kind() Kind       { return KindEnum }
func (Struct) Kind() Kind     { return KindStruct }
func (Option) Kind() Kind     { return KindOption }
func (Vec) Kind() Kind        { return KindVec }
func (ScheduleAt) Kind() Kind { return KindScheduleAt }

func (Bool) value()       {}
func (U8) value()         {}
func (U16) value()        {}
func (U32) value()        {}
func (U64) value()        {}
func (U128) value()       {}
func (I8) value()         {}
func (I16) value()        {}
func (I32) value()        {}
func (I64) value()        {}
func (F32) value()        {}
func (F64) value()        {}
func (String) value()     {}
func (Enum) value()       {}
func (Struct) value()     {}
func (Option) value()     {}
func (Vec) value()        {}
func (ScheduleAt) value() {}

// Some wraps v as a present option.
func Some(v Value) Option {
	return Option{Some: v}
}

// None returns an absent option.
func None() Option {
	return Option{}
}

// IsSome reports whether the option is present.
func (o Option) IsSome() bool {
	return o.Some != nil
}

// U128From builds a U128 from a uint64.
func U128From(n uint64) U128 {
	return U128{Lo: n}
}

// Add returns u+n with wrap-around on overflow.
func (u U128) Add(n uint64) U128 {
	lo := u.Lo + n
	hi := u.Hi
	if lo < u.Lo {
		hi++
	}
	return U128{Hi: hi, Lo: lo}
}

// Big converts u to a big.Int.
func (u U128) Big() *big.Int {
	b := new(big.Int).SetUint64(u.Hi)
	b.Lsh(b, 64)
	return b.Or(b, new(big.Int).SetUint64(u.Lo))
}

// String renders u in decimal.
func (u U128) String() string {
	return u.Big().String()
}

// U128FromBig converts a non-negative big.Int below 2^128.
func U128FromBig(b *big.Int) (U128, error) {
	if b.Sign() < 0 || b.BitLen() > 128 {
		return U128{}, fmt.Errorf("value %s out of u128 range", b)
	}
	lo := new(big.Int).And(b, new(big.Int).SetUint64(math.MaxUint64))
	hi := new(big.Int).Rsh(b, 64)
	return U128{Hi: hi.Uint64(), Lo: lo.Uint64()}, nil
}

// IntervalOf returns a repeating schedule.
func IntervalOf(d time.Duration) ScheduleAt {
	return ScheduleAt{Interval: true, Micros: d.Microseconds()}
}

// TimeAt returns a one-shot schedule.
func TimeAt(t time.Time) ScheduleAt {
	return ScheduleAt{Micros: t.UnixMicro()}
}

// Duration returns the interval length. Only meaningful when Interval is set.
func (s ScheduleAt) Duration() time.Duration {
	return time.Duration(s.Micros) * time.Microsecond
}

// Time returns the scheduled instant. Only meaningful when Interval is unset.
func (s ScheduleAt) Time() time.Time {
	return time.UnixMicro(s.Micros).UTC()
}

// With returns a copy of s with field i replaced.
func (s Struct) With(i int, v Value) Struct {
	out := make(Struct, len(s))
	copy(out, s)
	out[i] = v
	return out
}

// Check validates that v has the shape described by t.
func Check(t Type, v Value) error {
	return check(t, v, "")
}

func check(t Type, v Value, path string) error {
	if v == nil {
		return encodingErrorf(t, path, "missing value")
	}
	if v.Kind() != t.Kind {
		return encodingErrorf(t, path, "got %s value", v.Kind())
	}

	switch t.Kind {
	case KindString:
		str := v.(String)
		if !utf8.ValidString(string(str)) {
			return encodingErrorf(t, path, "invalid UTF-8")
		}
		if uint64(len(str)) > math.MaxUint32 {
			return encodingErrorf(t, path, "length %d exceeds u32 prefix", len(str))
		}
	case KindEnum:
		tag := v.(Enum).Tag
		if t.Enum == nil || tag < 0 || tag >= len(t.Enum.Variants) {
			return encodingErrorf(t, path, "variant tag %d out of range", tag)
		}
		if tag > math.MaxUint8 {
			return encodingErrorf(t, path, "variant tag %d does not fit one byte", tag)
		}
	case KindStruct:
		s := v.(Struct)
		if t.Struct == nil || len(s) != len(t.Struct.Fields) {
			return encodingErrorf(t, path, "got %d fields", len(s))
		}
		for i, f := range t.Struct.Fields {
			if err := check(f.Type, s[i], joinPath(path, f.Name)); err != nil {
				return err
			}
		}
	case KindOption:
		o := v.(Option)
		if o.Some != nil {
			return check(*t.Elem, o.Some, joinPath(path, "some"))
		}
	case KindVec:
		vec := v.(Vec)
		if uint64(len(vec)) > math.MaxUint32 {
			return encodingErrorf(t, path, "length %d exceeds u32 prefix", len(vec))
		}
		if minWidth(*t.Elem) == 0 && len(vec) > MaxZeroWidthElems {
			return encodingErrorf(t, path, "%d zero-width elements, at most %d", len(vec), MaxZeroWidthElems)
		}
		for i, elem := range vec {
			if err := check(*t.Elem, elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// Zero returns the zero value of t: zero numbers, empty strings and
// sequences, absent options, the first enum variant.
func Zero(t Type) Value {
	switch t.Kind {
	case KindBool:
		return Bool(false)
	case KindU8:
		return U8(0)
	case KindU16:
		return U16(0)
	case KindU32:
		return U32(0)
	case KindU64:
		return U64(0)
	case KindU128:
		return U128{}
	case KindI8:
		return I8(0)
	case KindI16:
		return I16(0)
	case KindI32:
		return I32(0)
	case KindI64:
		return I64(0)
	case KindF32:
		return F32(0)
	case KindF64:
		return F64(0)
	case KindString:
		return String("")
	case KindEnum:
		return Enum{}
	case KindStruct:
		s := make(Struct, len(t.Struct.Fields))
		for i, f := range t.Struct.Fields {
			s[i] = Zero(f.Type)
		}
		return s
	case KindOption:
		return None()
	case KindVec:
		return Vec{}
	case KindScheduleAt:
		return ScheduleAt{}
	}
	return nil
}

// IsZero reports whether v is the zero value for its kind.
// Used to detect auto-increment placeholders.
func IsZero(v Value) bool {
	switch val := v.(type) {
	case U8:
		return val == 0
	case U16:
		return val == 0
	case U32:
		return val == 0
	case U64:
		return val == 0
	case U128:
		return val == U128{}
	case I8:
		return val == 0
	case I16:
		return val == 0
	case I32:
		return val == 0
	case I64:
		return val == 0
	}
	return false
}

// IntegerOf builds an integer value of kind k from n.
// Returns an error when n does not fit.
func IntegerOf(k Kind, n uint64) (Value, error) {
	limit := map[Kind]uint64{
		KindU8: math.MaxUint8, KindU16: math.MaxUint16, KindU32: math.MaxUint32, KindU64: math.MaxUint64,
		KindI8: math.MaxInt8, KindI16: math.MaxInt16, KindI32: math.MaxInt32, KindI64: math.MaxInt64,
	}
	if k == KindU128 {
		return U128From(n), nil
	}
	max, ok := limit[k]
	if !ok {
		return nil, fmt.Errorf("%s is not an integer kind", k)
	}
	if n > max {
		return nil, fmt.Errorf("%d overflows %s", n, k)
	}
	switch k {
	case KindU8:
		return U8(n), nil
	case KindU16:
		return U16(n), nil
	case KindU32:
		return U32(n), nil
	case KindU64:
		return U64(n), nil
	case KindI8:
		return I8(n), nil
	case KindI16:
		return I16(n), nil
	case KindI32:
		return I32(n), nil
	default:
		return I64(n), nil
	}
}

// IsMin reports whether v is the minimum value of its integer kind.
func IsMin(v Value) bool {
	switch val := v.(type) {
	case U8, U16, U32, U64, U128:
		return IsZero(val)
	case I8:
		return val == math.MinInt8
	case I16:
		return val == math.MinInt16
	case I32:
		return val == math.MinInt32
	case I64:
		return val == math.MinInt64
	}
	return false
}

// IsMax reports whether v is the maximum value of its integer kind.
func IsMax(v Value) bool {
	switch val := v.(type) {
	case U8:
		return val == math.MaxUint8
	case U16:
		return val == math.MaxUint16
	case U32:
		return val == math.MaxUint32
	case U64:
		return val == math.MaxUint64
	case U128:
		return val.Hi == math.MaxUint64 && val.Lo == math.MaxUint64
	case I8:
		return val == math.MaxInt8
	case I16:
		return val == math.MaxInt16
	case I32:
		return val == math.MaxInt32
	case I64:
		return val == math.MaxInt64
	}
	return false
}

// Uint64Of returns the value of a non-negative integer that fits in 64 bits.
func Uint64Of(v Value) (uint64, bool) {
	switch val := v.(type) {
	case U8:
		return uint64(val), true
	case U16:
		return uint64(val), true
	case U32:
		return uint64(val), true
	case U64:
		return uint64(val), true
	case U128:
		return val.Lo, val.Hi == 0
	case I8:
		return uint64(val), val >= 0
	case I16:
		return uint64(val), val >= 0
	case I32:
		return uint64(val), val >= 0
	case I64:
		return uint64(val), val >= 0
	}
	return 0, false
}
