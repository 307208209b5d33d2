package ir

import (
	"fmt"
	"strings"
)

// Kind identifies the shape of a Type.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindI8
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	KindString
	KindEnum
	KindStruct
	KindOption
	KindVec
	KindScheduleAt
)

var kindNames = map[Kind]string{
	KindBool:       "bool",
	KindU8:         "u8",
	KindU16:        "u16",
	KindU32:        "u32",
	KindU64:        "u64",
	KindU128:       "u128",
	KindI8:         "i8",
	KindI16:        "i16",
	KindI32:        "i32",
	KindI64:        "i64",
	KindF32:        "f32",
	KindF64:        "f64",
	KindString:     "string",
	KindEnum:       "enum",
	KindStruct:     "struct",
	KindOption:     "option",
	KindVec:        "vec",
	KindScheduleAt: "schedule_at",
}

// String returns the lowercase kind name used in schema documents.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsInteger reports whether values of this kind are integers.
func (k Kind) IsInteger() bool {
	switch k {
	case KindU8, KindU16, KindU32, KindU64, KindU128, KindI8, KindI16, KindI32, KindI64:
		return true
	}
	return false
}

// Type describes the shape of a column, field or parameter.
//
// Scalar types only set Kind. Option and Vec set Elem. Enum and Struct
// point at their shared named declarations.
type Type struct {
	Kind   Kind
	Elem   *Type
	Enum   *EnumType
	Struct *StructType
}

// EnumType is a closed tagged union of unit variants.
// Variant order is significant: tags are variant indexes.
type EnumType struct {
	Name     string
	Variants []string
	Default  int
}

// VariantIndex returns the tag of the named variant, or -1.
func (e *EnumType) VariantIndex(name string) int {
	for i, v := range e.Variants {
		if v == name {
			return i
		}
	}
	return -1
}

// StructType is an ordered list of named fields.
type StructType struct {
	Name   string
	Fields []Field
}

// Field is a named, typed member of a StructType.
type Field struct {
	Name string
	Type Type
}

// FieldIndex returns the position of the named field, or -1.
func (s *StructType) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Scalar returns the Type for a scalar kind.
func Scalar(k Kind) Type {
	return Type{Kind: k}
}

// OptionOf returns option<elem>.
func OptionOf(elem Type) Type {
	return Type{Kind: KindOption, Elem: &elem}
}

// VecOf returns vec<elem>.
func VecOf(elem Type) Type {
	return Type{Kind: KindVec, Elem: &elem}
}

// EnumOf returns the Type for a declared enum.
func EnumOf(e *EnumType) Type {
	return Type{Kind: KindEnum, Enum: e}
}

// StructOf returns the Type for a declared struct.
func StructOf(s *StructType) Type {
	return Type{Kind: KindStruct, Struct: s}
}

// String renders the type as a schema type expression, e.g. "vec<option<TestEnum>>".
func (t Type) String() string {
	switch t.Kind {
	case KindOption, KindVec:
		if t.Elem == nil {
			return t.Kind.String() + "<?>"
		}
		return t.Kind.String() + "<" + t.Elem.String() + ">"
	case KindEnum:
		if t.Enum != nil {
			return t.Enum.Name
		}
	case KindStruct:
		if t.Struct != nil {
			return t.Struct.Name
		}
	}
	return t.Kind.String()
}

// TypeSpace holds the named enum and struct declarations of a module.
type TypeSpace struct {
	enums   map[string]*EnumType
	structs map[string]*StructType
	order   []string
}

// NewTypeSpace creates an empty TypeSpace.
func NewTypeSpace() *TypeSpace {
	return &TypeSpace{
		enums:   make(map[string]*EnumType),
		structs: make(map[string]*StructType),
	}
}

// AddEnum registers a named enum. Names are unique across enums and structs.
func (ts *TypeSpace) AddEnum(e *EnumType) error {
	if err := ts.checkName(e.Name); err != nil {
		return err
	}
	if len(e.Variants) == 0 {
		return fmt.Errorf("enum %s: at least one variant is required", e.Name)
	}
	if len(e.Variants) > MaxEnumVariants {
		return fmt.Errorf("enum %s: %d variants, at most %d fit the one-byte tag", e.Name, len(e.Variants), MaxEnumVariants)
	}
	if e.Default < 0 || e.Default >= len(e.Variants) {
		return fmt.Errorf("enum %s: default variant index %d out of range", e.Name, e.Default)
	}
	seen := make(map[string]bool, len(e.Variants))
	for _, v := range e.Variants {
		if seen[v] {
			return fmt.Errorf("enum %s: duplicate variant %q", e.Name, v)
		}
		seen[v] = true
	}
	ts.enums[e.Name] = e
	ts.order = append(ts.order, e.Name)
	return nil
}

// AddStruct registers a named struct.
func (ts *TypeSpace) AddStruct(s *StructType) error {
	if err := ts.checkName(s.Name); err != nil {
		return err
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("struct %s: at least one field is required", s.Name)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if seen[f.Name] {
			return fmt.Errorf("struct %s: duplicate field %q", s.Name, f.Name)
		}
		seen[f.Name] = true
	}
	ts.structs[s.Name] = s
	ts.order = append(ts.order, s.Name)
	return nil
}

func (ts *TypeSpace) checkName(name string) error {
	if name == "" {
		return fmt.Errorf("type name is required")
	}
	if _, ok := kindFromName(name); ok {
		return fmt.Errorf("type name %q shadows a builtin type", name)
	}
	if _, ok := ts.enums[name]; ok {
		return fmt.Errorf("duplicate type %q", name)
	}
	if _, ok := ts.structs[name]; ok {
		return fmt.Errorf("duplicate type %q", name)
	}
	return nil
}

// Lookup resolves a named type.
func (ts *TypeSpace) Lookup(name string) (Type, bool) {
	if e, ok := ts.enums[name]; ok {
		return EnumOf(e), true
	}
	if s, ok := ts.structs[name]; ok {
		return StructOf(s), true
	}
	return Type{}, false
}

// Names returns declared type names in declaration order.
func (ts *TypeSpace) Names() []string {
	out := make([]string, len(ts.order))
	copy(out, ts.order)
	return out
}

func kindFromName(name string) (Kind, bool) {
	for k, n := range kindNames {
		switch k {
		case KindEnum, KindStruct, KindOption, KindVec:
			continue
		}
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// ParseType parses a schema type expression such as "u32",
// "option<TestType>" or "vec<vec<string>>". Named types resolve through ts,
// which may be nil when only builtin types are used.
func ParseType(expr string, ts *TypeSpace) (Type, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Type{}, fmt.Errorf("empty type expression")
	}

	if open := strings.IndexByte(expr, '<'); open >= 0 {
		if !strings.HasSuffix(expr, ">") {
			return Type{}, fmt.Errorf("type %q: missing closing '>'", expr)
		}
		head := strings.TrimSpace(expr[:open])
		elem, err := ParseType(expr[open+1:len(expr)-1], ts)
		if err != nil {
			return Type{}, fmt.Errorf("type %q: %w", expr, err)
		}
		switch head {
		case "option":
			return OptionOf(elem), nil
		case "vec":
			return VecOf(elem), nil
		default:
			return Type{}, fmt.Errorf("type %q: unknown type constructor %q", expr, head)
		}
	}

	if k, ok := kindFromName(expr); ok {
		return Scalar(k), nil
	}
	if ts != nil {
		if t, ok := ts.Lookup(expr); ok {
			return t, nil
		}
	}
	return Type{}, fmt.Errorf("unknown type %q", expr)
}
