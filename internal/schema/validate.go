package schema

import (
	"errors"
	"fmt"

	"github.com/roach88/tablet/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrDuplicateName      = "E200" // duplicate table/reducer/view/procedure/column/index name
	ErrMissingName        = "E201" // empty name
	ErrPrimaryKeyColumn   = "E202" // primary key names an unknown column
	ErrAutoIncType        = "E203" // auto-increment on a non-integer column or without a primary key
	ErrIndexColumn        = "E204" // index names an unknown column
	ErrIndexKind          = "E205" // unsupported index kind
	ErrScheduleColumn     = "E206" // scheduled table lacks a schedule_at column
	ErrScheduleReducer    = "E207" // bound reducer missing or with the wrong signature
	ErrScheduleKey        = "E208" // scheduled table without an auto-increment primary key
	ErrViewTable          = "E209" // view names an unknown table
	ErrViewShape          = "E210" // invalid view return shape
	ErrVisibility         = "E211" // invalid table visibility
	ErrMissingTypeSpace   = "E212" // module without a type space
	ErrInvalidColumnType  = "E213" // column type without a kind
	ErrPrivateViewAnonCtx = "E214" // private view declared with anonymous context
	ErrNoColumns          = "E215" // table without columns
)

// ErrInvalidSchema is matched by every ValidationError via errors.Is.
var ErrInvalidSchema = errors.New("invalid schema")

// ValidationError reports one problem in a module declaration.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("INVALID_SCHEMA [%s] %s: %s", e.Code, e.Field, e.Message)
}

// Is matches ErrInvalidSchema.
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidSchema
}

// Validate checks the module declaration and returns every problem found.
func (m *ModuleDef) Validate() []ValidationError {
	v := &validator{}
	v.module(m)
	return v.errs
}

// Check returns nil for a valid module, or all validation errors joined.
// Used at startup to fail fast.
func (m *ModuleDef) Check() error {
	errs := m.Validate()
	if len(errs) == 0 {
		return nil
	}
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return errors.Join(joined...)
}

type validator struct {
	errs []ValidationError
}

func (v *validator) add(code, field, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
}

func (v *validator) module(m *ModuleDef) {
	if m.Types == nil {
		v.add(ErrMissingTypeSpace, "types", "module type space is required")
	}

	names := make(map[string]string)
	claim := func(kind, name string) {
		if name == "" {
			v.add(ErrMissingName, kind, "name is required")
			return
		}
		if prev, ok := names[name]; ok {
			v.add(ErrDuplicateName, kind+"."+name, "name already used by %s", prev)
			return
		}
		names[name] = kind
	}

	for i := range m.Tables {
		claim("table", m.Tables[i].Name)
		v.table(m, &m.Tables[i])
	}
	for _, r := range m.Reducers {
		claim("reducer", r.Name)
		v.params("reducer."+r.Name, r.Params)
	}
	for _, vw := range m.Views {
		claim("view", vw.Name)
		v.view(m, vw)
	}
	for _, p := range m.Procedures {
		claim("procedure", p.Name)
		v.params("procedure."+p.Name, p.Params)
		if p.Returns.Kind == 0 {
			v.add(ErrInvalidColumnType, "procedure."+p.Name+".returns", "return type is required")
		}
	}
}

func (v *validator) table(m *ModuleDef, t *TableDef) {
	field := "table." + t.Name

	switch t.Visibility {
	case Public, Private:
	default:
		v.add(ErrVisibility, field, "visibility must be public or private, got %q", t.Visibility)
	}

	if len(t.Columns) == 0 {
		v.add(ErrNoColumns, field+".columns", "at least one column is required")
	}
	cols := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			v.add(ErrMissingName, field+".columns", "column name is required")
			continue
		}
		if cols[c.Name] {
			v.add(ErrDuplicateName, field+"."+c.Name, "duplicate column")
		}
		cols[c.Name] = true
		if c.Type.Kind == 0 {
			v.add(ErrInvalidColumnType, field+"."+c.Name, "column type is required")
		}
	}

	if t.PrimaryKey != "" {
		idx := t.ColumnIndex(t.PrimaryKey)
		if idx < 0 {
			v.add(ErrPrimaryKeyColumn, field+".primary_key", "unknown column %q", t.PrimaryKey)
		} else if t.AutoInc && !t.Columns[idx].Type.Kind.IsInteger() {
			v.add(ErrAutoIncType, field+".primary_key", "auto-increment requires an integer column, %q is %s",
				t.PrimaryKey, t.Columns[idx].Type)
		}
	} else if t.AutoInc {
		v.add(ErrAutoIncType, field+".auto_inc", "auto-increment requires a primary key")
	}

	indexNames := make(map[string]bool, len(t.Indexes))
	for _, idx := range t.Indexes {
		if idx.Name == "" {
			v.add(ErrMissingName, field+".indexes", "index name is required")
			continue
		}
		if indexNames[idx.Name] {
			v.add(ErrDuplicateName, field+".indexes."+idx.Name, "duplicate index")
		}
		indexNames[idx.Name] = true
		if idx.Kind != IndexBTree {
			v.add(ErrIndexKind, field+".indexes."+idx.Name, "unsupported index kind %q", idx.Kind)
		}
		if len(idx.Columns) == 0 {
			v.add(ErrIndexColumn, field+".indexes."+idx.Name, "at least one column is required")
		}
		for _, c := range idx.Columns {
			if !cols[c] {
				v.add(ErrIndexColumn, field+".indexes."+idx.Name, "unknown column %q", c)
			}
		}
	}

	if t.Schedule != nil {
		v.schedule(m, t)
	}
}

func (v *validator) schedule(m *ModuleDef, t *TableDef) {
	field := "table." + t.Name + ".scheduled"

	at := t.ColumnIndex(t.Schedule.AtColumn)
	if at < 0 {
		v.add(ErrScheduleColumn, field, "unknown schedule column %q", t.Schedule.AtColumn)
	} else if t.Columns[at].Type.Kind != ir.KindScheduleAt {
		v.add(ErrScheduleColumn, field, "column %q must be schedule_at, got %s", t.Schedule.AtColumn, t.Columns[at].Type)
	}

	if t.PrimaryKey == "" || !t.AutoInc {
		v.add(ErrScheduleKey, field, "scheduled tables need an auto-increment primary key")
	}

	r, ok := m.Reducer(t.Schedule.Reducer)
	if !ok {
		v.add(ErrScheduleReducer, field, "bound reducer %q is not declared", t.Schedule.Reducer)
		return
	}
	if len(r.Params) != 1 || r.Params[0].Type.Kind != ir.KindStruct || r.Params[0].Type.Struct == nil ||
		r.Params[0].Type.Struct.Name != t.Name {
		v.add(ErrScheduleReducer, field, "bound reducer %q must take exactly one %s row", r.Name, t.Name)
	}
}

func (v *validator) view(m *ModuleDef, vw ViewDef) {
	field := "view." + vw.Name
	if _, ok := m.Table(vw.Table); !ok {
		v.add(ErrViewTable, field, "unknown table %q", vw.Table)
	}
	switch vw.Returns {
	case ReturnOption, ReturnRows, ReturnQuery:
	default:
		v.add(ErrViewShape, field, "returns must be option, rows or query, got %q", vw.Returns)
	}
	if vw.Anonymous && !vw.Public {
		v.add(ErrPrivateViewAnonCtx, field, "anonymous views must be public")
	}
}

func (v *validator) params(field string, params []Param) {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Name == "" {
			v.add(ErrMissingName, field+".params", "parameter name is required")
			continue
		}
		if seen[p.Name] {
			v.add(ErrDuplicateName, field+"."+p.Name, "duplicate parameter")
		}
		seen[p.Name] = true
		if p.Type.Kind == 0 {
			v.add(ErrInvalidColumnType, field+"."+p.Name, "parameter type is required")
		}
	}
}
