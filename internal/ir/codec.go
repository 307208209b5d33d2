package ir

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// ErrEncoding is matched by every EncodingError via errors.Is.
var ErrEncoding = errors.New("encoding error")

// EncodingError reports a value that does not round-trip against its
// declared type. It is never silently recovered.
type EncodingError struct {
	Type    string // Declared type expression
	Path    string // Field path inside the value (empty for the root)
	Message string
}

func (e *EncodingError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("ENCODING_ERROR: %s at %s: %s", e.Type, e.Path, e.Message)
	}
	return fmt.Sprintf("ENCODING_ERROR: %s: %s", e.Type, e.Message)
}

// Is matches ErrEncoding.
func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}

func encodingErrorf(t Type, path, format string, args ...any) *EncodingError {
	return &EncodingError{Type: t.String(), Path: path, Message: fmt.Sprintf(format, args...)}
}

// Wire limits.
const (
	// MaxEnumVariants is the most variants a one-byte enum tag can address.
	MaxEnumVariants = math.MaxUint8 + 1

	// MaxZeroWidthElems caps vecs whose elements encode to no bytes, so a
	// four-byte count cannot expand into billions of values on decode.
	MaxZeroWidthElems = 1 << 16
)

// Option and ScheduleAt tags on the wire.
const (
	tagSome     = 0
	tagNone     = 1
	tagInterval = 0
	tagTime     = 1
)

// Encode serializes v according to t.
//
// Format (little-endian throughout):
//   - integers and floats: fixed width
//   - bool: one byte, 0 or 1
//   - string: u32 byte length + UTF-8 bytes
//   - vec: u32 element count + elements
//   - option: tag byte (0 = some, 1 = none) + payload when present
//   - enum: tag byte
//   - struct: fields in declaration order
//   - schedule_at: tag byte (0 = interval, 1 = time) + i64 microseconds
func Encode(t Type, v Value) ([]byte, error) {
	if err := Check(t, v); err != nil {
		return nil, err
	}
	return appendValue(nil, t, v), nil
}

// AppendEncoded appends the encoding of an already-checked value to buf.
func AppendEncoded(buf []byte, t Type, v Value) ([]byte, error) {
	if err := Check(t, v); err != nil {
		return nil, err
	}
	return appendValue(buf, t, v), nil
}

func appendValue(buf []byte, t Type, v Value) []byte {
	switch val := v.(type) {
	case Bool:
		if val {
			return append(buf, 1)
		}
		return append(buf, 0)
	case U8:
		return append(buf, byte(val))
	case U16:
		return binary.LittleEndian.AppendUint16(buf, uint16(val))
	case U32:
		return binary.LittleEndian.AppendUint32(buf, uint32(val))
	case U64:
		return binary.LittleEndian.AppendUint64(buf, uint64(val))
	case U128:
		buf = binary.LittleEndian.AppendUint64(buf, val.Lo)
		return binary.LittleEndian.AppendUint64(buf, val.Hi)
	case I8:
		return append(buf, byte(val))
	case I16:
		return binary.LittleEndian.AppendUint16(buf, uint16(val))
	case I32:
		return binary.LittleEndian.AppendUint32(buf, uint32(val))
	case I64:
		return binary.LittleEndian.AppendUint64(buf, uint64(val))
	case F32:
		return binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(val)))
	case F64:
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(float64(val)))
	case String:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(val)))
		return append(buf, val...)
	case Enum:
		return append(buf, byte(val.Tag))
	case Struct:
		for i, f := range t.Struct.Fields {
			buf = appendValue(buf, f.Type, val[i])
		}
		return buf
	case Option:
		if val.Some == nil {
			return append(buf, tagNone)
		}
		buf = append(buf, tagSome)
		return appendValue(buf, *t.Elem, val.Some)
	case Vec:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(val)))
		for _, elem := range val {
			buf = appendValue(buf, *t.Elem, elem)
		}
		return buf
	case ScheduleAt:
		if val.Interval {
			buf = append(buf, tagInterval)
		} else {
			buf = append(buf, tagTime)
		}
		return binary.LittleEndian.AppendUint64(buf, uint64(val.Micros))
	}
	return buf
}

// Decode parses data as a value of type t. The whole input must be consumed.
func Decode(t Type, data []byte) (Value, error) {
	r := &reader{data: data}
	v, err := r.value(t, "")
	if err != nil {
		return nil, err
	}
	if r.off != len(data) {
		return nil, encodingErrorf(t, "", "%d trailing bytes", len(data)-r.off)
	}
	return v, nil
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) take(t Type, path string, n int) ([]byte, error) {
	if n < 0 || len(r.data)-r.off < n {
		return nil, encodingErrorf(t, path, "truncated input: need %d bytes at offset %d", n, r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) value(t Type, path string) (Value, error) {
	switch t.Kind {
	case KindBool:
		b, err := r.take(t, path, 1)
		if err != nil {
			return nil, err
		}
		switch b[0] {
		case 0:
			return Bool(false), nil
		case 1:
			return Bool(true), nil
		}
		return nil, encodingErrorf(t, path, "invalid bool byte %d", b[0])
	case KindU8, KindI8:
		b, err := r.take(t, path, 1)
		if err != nil {
			return nil, err
		}
		if t.Kind == KindU8 {
			return U8(b[0]), nil
		}
		return I8(int8(b[0])), nil
	case KindU16, KindI16:
		b, err := r.take(t, path, 2)
		if err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint16(b)
		if t.Kind == KindU16 {
			return U16(n), nil
		}
		return I16(int16(n)), nil
	case KindU32, KindI32, KindF32:
		b, err := r.take(t, path, 4)
		if err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint32(b)
		switch t.Kind {
		case KindU32:
			return U32(n), nil
		case KindI32:
			return I32(int32(n)), nil
		}
		return F32(math.Float32frombits(n)), nil
	case KindU64, KindI64, KindF64:
		b, err := r.take(t, path, 8)
		if err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint64(b)
		switch t.Kind {
		case KindU64:
			return U64(n), nil
		case KindI64:
			return I64(int64(n)), nil
		}
		return F64(math.Float64frombits(n)), nil
	case KindU128:
		b, err := r.take(t, path, 16)
		if err != nil {
			return nil, err
		}
		return U128{Lo: binary.LittleEndian.Uint64(b[:8]), Hi: binary.LittleEndian.Uint64(b[8:])}, nil
	case KindString:
		n, err := r.length(t, path)
		if err != nil {
			return nil, err
		}
		b, err := r.take(t, path, n)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(b) {
			return nil, encodingErrorf(t, path, "invalid UTF-8")
		}
		return String(b), nil
	case KindEnum:
		b, err := r.take(t, path, 1)
		if err != nil {
			return nil, err
		}
		if int(b[0]) >= len(t.Enum.Variants) {
			return nil, encodingErrorf(t, path, "variant tag %d out of range", b[0])
		}
		return Enum{Tag: int(b[0])}, nil
	case KindStruct:
		s := make(Struct, len(t.Struct.Fields))
		for i, f := range t.Struct.Fields {
			v, err := r.value(f.Type, joinPath(path, f.Name))
			if err != nil {
				return nil, err
			}
			s[i] = v
		}
		return s, nil
	case KindOption:
		b, err := r.take(t, path, 1)
		if err != nil {
			return nil, err
		}
		switch b[0] {
		case tagNone:
			return None(), nil
		case tagSome:
			v, err := r.value(*t.Elem, joinPath(path, "some"))
			if err != nil {
				return nil, err
			}
			return Some(v), nil
		}
		return nil, encodingErrorf(t, path, "invalid option tag %d", b[0])
	case KindVec:
		n, err := r.length(t, path)
		if err != nil {
			return nil, err
		}
		if w := minWidth(*t.Elem); w > 0 {
			if int64(n)*int64(w) > int64(len(r.data)-r.off) {
				return nil, encodingErrorf(t, path, "%d elements exceed remaining input", n)
			}
		} else if n > MaxZeroWidthElems {
			return nil, encodingErrorf(t, path, "%d zero-width elements, at most %d", n, MaxZeroWidthElems)
		}
		vec := make(Vec, 0, min(n, 1024))
		for i := 0; i < n; i++ {
			v, err := r.value(*t.Elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			vec = append(vec, v)
		}
		return vec, nil
	case KindScheduleAt:
		b, err := r.take(t, path, 9)
		if err != nil {
			return nil, err
		}
		if b[0] != tagInterval && b[0] != tagTime {
			return nil, encodingErrorf(t, path, "invalid schedule_at tag %d", b[0])
		}
		return ScheduleAt{Interval: b[0] == tagInterval, Micros: int64(binary.LittleEndian.Uint64(b[1:]))}, nil
	}
	return nil, encodingErrorf(t, path, "unsupported kind")
}

func (r *reader) length(t Type, path string) (int, error) {
	b, err := r.take(t, path, 4)
	if err != nil {
		return 0, err
	}
	n := binary.LittleEndian.Uint32(b)
	if int64(n) > int64(len(r.data)-r.off) && t.Kind == KindString {
		return 0, encodingErrorf(t, path, "length %d exceeds remaining input", n)
	}
	return int(n), nil
}

// minWidth is the fewest bytes any value of t encodes to.
func minWidth(t Type) int {
	switch t.Kind {
	case KindBool, KindU8, KindI8, KindEnum, KindOption:
		return 1
	case KindU16, KindI16:
		return 2
	case KindU32, KindI32, KindF32, KindString, KindVec:
		return 4
	case KindU64, KindI64, KindF64:
		return 8
	case KindScheduleAt:
		return 9
	case KindU128:
		return 16
	case KindStruct:
		w := 0
		if t.Struct != nil {
			for _, f := range t.Struct.Fields {
				w += minWidth(f.Type)
			}
		}
		return w
	}
	return 0
}
