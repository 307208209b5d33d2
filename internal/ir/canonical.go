package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"slices"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical renders v as deterministic JSON for external callers.
//
// Differences from encoding/json:
//  1. Struct keys sorted by UTF-16 code units (RFC 8785)
//  2. No HTML escaping
//  3. Strings are NFC normalized
//  4. Integers are exact (u64, i64 and u128 never pass through float64)
//  5. Enums render as their variant name, absent options as null
//  6. schedule_at renders as {"Interval": µs} or {"Time": µs}
func MarshalCanonical(t Type, v Value) ([]byte, error) {
	if err := Check(t, v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, t, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, t Type, v Value) error {
	switch val := v.(type) {
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case U8:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case U16:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case U32:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case U64:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case U128:
		buf.WriteString(val.String())
	case I8:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case I16:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case I32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case I64:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case F32:
		return writeFloat(buf, float64(val), 32)
	case F64:
		return writeFloat(buf, float64(val), 64)
	case String:
		s, err := marshalCanonicalString(string(val))
		if err != nil {
			return err
		}
		buf.Write(s)
	case Enum:
		s, err := marshalCanonicalString(t.Enum.Variants[val.Tag])
		if err != nil {
			return err
		}
		buf.Write(s)
	case Struct:
		order := make([]int, len(t.Struct.Fields))
		for i := range order {
			order[i] = i
		}
		slices.SortFunc(order, func(a, b int) int {
			return compareKeysRFC8785(t.Struct.Fields[a].Name, t.Struct.Fields[b].Name)
		})
		buf.WriteByte('{')
		for n, i := range order {
			if n > 0 {
				buf.WriteByte(',')
			}
			key, err := marshalCanonicalString(t.Struct.Fields[i].Name)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t.Struct.Fields[i].Type, val[i]); err != nil {
				return fmt.Errorf("field %q: %w", t.Struct.Fields[i].Name, err)
			}
		}
		buf.WriteByte('}')
	case Option:
		if val.Some == nil {
			buf.WriteString("null")
			return nil
		}
		return writeCanonical(buf, *t.Elem, val.Some)
	case Vec:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, *t.Elem, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case ScheduleAt:
		if val.Interval {
			fmt.Fprintf(buf, `{"Interval":%d}`, val.Micros)
		} else {
			fmt.Fprintf(buf, `{"Time":%d}`, val.Micros)
		}
	default:
		return fmt.Errorf("unsupported value type: %T", v)
	}
	return nil
}

func writeFloat(buf *bytes.Buffer, f float64, bits int) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite float %v has no JSON form", f)
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, bits))
	return nil
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785. Go's string comparison uses UTF-8 bytes, which
// orders supplementary-plane characters differently.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// marshalCanonicalString produces a JSON string with NFC normalization and
// without HTML escaping. U+2028 and U+2029 are emitted literally.
func marshalCanonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return unescapeLineSeparators(out), nil
}

// unescapeLineSeparators turns \u2028 and \u2029 escapes back into the
// literal characters, leaving escaped backslashes (\\u2028) alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+1 < len(data) {
			if data[i+1] == 'u' && i+5 < len(data) && string(data[i+2:i+5]) == "202" &&
				(data[i+5] == '8' || data[i+5] == '9') {
				if data[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 5
				continue
			}
			// Any other escape: copy both bytes so the next byte is never
			// mistaken for the start of a sequence.
			out = append(out, data[i], data[i+1])
			i++
			continue
		}
		out = append(out, data[i])
	}
	return out
}

// FromJSON decodes caller-supplied JSON into a value of type t.
// Enums accept a variant name, options accept null, schedule_at accepts
// {"Interval": µs} or {"Time": µs}. Integers are parsed exactly.
func FromJSON(t Type, data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, encodingErrorf(t, "", "invalid JSON: %v", err)
	}
	return fromAny(t, raw, "")
}

func fromAny(t Type, raw any, path string) (Value, error) {
	if t.Kind == KindOption {
		if raw == nil {
			return None(), nil
		}
		v, err := fromAny(*t.Elem, raw, joinPath(path, "some"))
		if err != nil {
			return nil, err
		}
		return Some(v), nil
	}
	if raw == nil {
		return nil, encodingErrorf(t, path, "null is only valid for option types")
	}

	switch t.Kind {
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, encodingErrorf(t, path, "expected bool, got %T", raw)
		}
		return Bool(b), nil
	case KindU8, KindU16, KindU32, KindU64, KindI8, KindI16, KindI32, KindI64, KindU128, KindF32, KindF64:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, encodingErrorf(t, path, "expected number, got %T", raw)
		}
		return numberOf(t, n, path)
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, encodingErrorf(t, path, "expected string, got %T", raw)
		}
		return String(s), nil
	case KindEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, encodingErrorf(t, path, "expected variant name, got %T", raw)
		}
		tag := t.Enum.VariantIndex(s)
		if tag < 0 {
			return nil, encodingErrorf(t, path, "unknown variant %q", s)
		}
		return Enum{Tag: tag}, nil
	case KindStruct:
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, encodingErrorf(t, path, "expected object, got %T", raw)
		}
		for k := range obj {
			if t.Struct.FieldIndex(k) < 0 {
				return nil, encodingErrorf(t, path, "unknown field %q", k)
			}
		}
		s := make(Struct, len(t.Struct.Fields))
		for i, f := range t.Struct.Fields {
			fieldRaw, present := obj[f.Name]
			if !present && f.Type.Kind != KindOption {
				return nil, encodingErrorf(t, path, "missing field %q", f.Name)
			}
			v, err := fromAny(f.Type, fieldRaw, joinPath(path, f.Name))
			if err != nil {
				return nil, err
			}
			s[i] = v
		}
		return s, nil
	case KindVec:
		arr, ok := raw.([]any)
		if !ok {
			return nil, encodingErrorf(t, path, "expected array, got %T", raw)
		}
		vec := make(Vec, len(arr))
		for i, elem := range arr {
			v, err := fromAny(*t.Elem, elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			vec[i] = v
		}
		return vec, nil
	case KindScheduleAt:
		obj, ok := raw.(map[string]any)
		if !ok || len(obj) != 1 {
			return nil, encodingErrorf(t, path, `expected {"Interval": n} or {"Time": n}`)
		}
		for k, inner := range obj {
			n, ok := inner.(json.Number)
			if !ok {
				return nil, encodingErrorf(t, path, "expected microseconds, got %T", inner)
			}
			micros, err := n.Int64()
			if err != nil {
				return nil, encodingErrorf(t, path, "invalid microseconds %s", n)
			}
			switch k {
			case "Interval":
				return ScheduleAt{Interval: true, Micros: micros}, nil
			case "Time":
				return ScheduleAt{Micros: micros}, nil
			}
			return nil, encodingErrorf(t, path, "unknown schedule variant %q", k)
		}
	}
	return nil, encodingErrorf(t, path, "unsupported kind")
}

func numberOf(t Type, n json.Number, path string) (Value, error) {
	s := string(n)
	switch t.Kind {
	case KindF32:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, encodingErrorf(t, path, "invalid f32 %s", s)
		}
		return F32(f), nil
	case KindF64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, encodingErrorf(t, path, "invalid f64 %s", s)
		}
		return F64(f), nil
	case KindU128:
		b, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, encodingErrorf(t, path, "invalid u128 %s", s)
		}
		u, err := U128FromBig(b)
		if err != nil {
			return nil, encodingErrorf(t, path, "%v", err)
		}
		return u, nil
	case KindU8, KindU16, KindU32, KindU64:
		bits := map[Kind]int{KindU8: 8, KindU16: 16, KindU32: 32, KindU64: 64}[t.Kind]
		u, err := strconv.ParseUint(s, 10, bits)
		if err != nil {
			return nil, encodingErrorf(t, path, "invalid %s %s", t.Kind, s)
		}
		switch t.Kind {
		case KindU8:
			return U8(u), nil
		case KindU16:
			return U16(u), nil
		case KindU32:
			return U32(u), nil
		}
		return U64(u), nil
	default:
		bits := map[Kind]int{KindI8: 8, KindI16: 16, KindI32: 32, KindI64: 64}[t.Kind]
		i, err := strconv.ParseInt(s, 10, bits)
		if err != nil {
			return nil, encodingErrorf(t, path, "invalid %s %s", t.Kind, s)
		}
		switch t.Kind {
		case KindI8:
			return I8(i), nil
		case KindI16:
			return I16(i), nil
		case KindI32:
			return I32(i), nil
		}
		return I64(i), nil
	}
}
