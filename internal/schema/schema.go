// Package schema describes a module: its named types, tables, reducers,
// views and procedures.
//
// A ModuleDef is plain data. It is produced by internal/compiler from CUE
// documents or written as a Go literal, and must pass Validate before the
// datastore or engine accept it.
package schema

import (
	"github.com/roach88/tablet/internal/ir"
)

// Visibility controls whether external readers may see a table directly.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// IndexKind names the index algorithm. Only btree is supported.
type IndexKind string

const IndexBTree IndexKind = "btree"

// Column is a named, typed member of a row.
type Column struct {
	Name string
	Type ir.Type
}

// IndexDef declares a secondary index over one or more columns.
// Values need not be unique.
type IndexDef struct {
	Name    string
	Kind    IndexKind
	Columns []string
}

// ScheduleDef binds a table's rows to a reducer as timer entries.
type ScheduleDef struct {
	Reducer  string // Reducer invoked with the due row
	AtColumn string // Column of type schedule_at
}

// TableDef declares a table.
type TableDef struct {
	Name       string
	Columns    []Column
	PrimaryKey string // Empty when the table has no primary key
	AutoInc    bool
	Indexes    []IndexDef
	Visibility Visibility
	Schedule   *ScheduleDef
}

// ColumnIndex returns the position of the named column, or -1.
func (t *TableDef) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// PrimaryKeyIndex returns the primary key column position, or -1.
func (t *TableDef) PrimaryKeyIndex() int {
	if t.PrimaryKey == "" {
		return -1
	}
	return t.ColumnIndex(t.PrimaryKey)
}

// Index returns the named index declaration.
func (t *TableDef) Index(name string) (IndexDef, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDef{}, false
}

// RowType returns the struct type of a row of this table.
// The returned type is rebuilt on every call; callers that need it often
// should cache it.
func (t *TableDef) RowType() ir.Type {
	fields := make([]ir.Field, len(t.Columns))
	for i, c := range t.Columns {
		fields[i] = ir.Field{Name: c.Name, Type: c.Type}
	}
	return ir.StructOf(&ir.StructType{Name: t.Name, Fields: fields})
}

// IsPublic reports whether external readers may see the table.
func (t *TableDef) IsPublic() bool {
	return t.Visibility == Public
}

// Param is a named, typed argument of a reducer or procedure.
type Param struct {
	Name string
	Type ir.Type
}

// ReducerDef declares a mutation routine.
type ReducerDef struct {
	Name   string
	Params []Param
}

// ReturnShape is the declared result form of a view.
type ReturnShape string

const (
	ReturnOption ReturnShape = "option"
	ReturnRows   ReturnShape = "rows"
	ReturnQuery  ReturnShape = "query"
)

// ViewDef declares a read-only projection over one table's rows.
type ViewDef struct {
	Name      string
	Table     string // Table whose row type the view returns
	Returns   ReturnShape
	Public    bool
	Anonymous bool // Runs without caller identity
}

// ProcedureDef declares an externally invoked read routine.
type ProcedureDef struct {
	Name    string
	Params  []Param
	Returns ir.Type // Type of the value inside the optional result
}

// ModuleDef is the complete declaration of a module.
type ModuleDef struct {
	Name       string
	Types      *ir.TypeSpace
	Tables     []TableDef
	Reducers   []ReducerDef
	Views      []ViewDef
	Procedures []ProcedureDef
}

// Table returns the named table declaration.
func (m *ModuleDef) Table(name string) (*TableDef, bool) {
	for i := range m.Tables {
		if m.Tables[i].Name == name {
			return &m.Tables[i], true
		}
	}
	return nil, false
}

// Reducer returns the named reducer declaration.
func (m *ModuleDef) Reducer(name string) (*ReducerDef, bool) {
	for i := range m.Reducers {
		if m.Reducers[i].Name == name {
			return &m.Reducers[i], true
		}
	}
	return nil, false
}

// View returns the named view declaration.
func (m *ModuleDef) View(name string) (*ViewDef, bool) {
	for i := range m.Views {
		if m.Views[i].Name == name {
			return &m.Views[i], true
		}
	}
	return nil, false
}

// Procedure returns the named procedure declaration.
func (m *ModuleDef) Procedure(name string) (*ProcedureDef, bool) {
	for i := range m.Procedures {
		if m.Procedures[i].Name == name {
			return &m.Procedures[i], true
		}
	}
	return nil, false
}

// ScheduledTables returns the tables bound to a reducer.
func (m *ModuleDef) ScheduledTables() []*TableDef {
	var out []*TableDef
	for i := range m.Tables {
		if m.Tables[i].Schedule != nil {
			out = append(out, &m.Tables[i])
		}
	}
	return out
}
