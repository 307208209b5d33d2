package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/schema"
)

// CompileModule parses a CUE value into a ModuleDef.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The value is the module document root:
//
//	module: "integration"
//	types: TestEnum: {variants: ["A", "B"], default: "A"}
//	types: TestType: fields: {test_name: "string", test_int: "u64"}
//	tables: test_no_pk_table: {
//		visibility: "private"
//		columns: {name: "string", kind: "TestEnum"}
//	}
//	reducers: seed_default_row: {}
//	views: all_rows: {table: "test_no_pk_table", returns: "rows"}
//
// Type expressions are strings parsed by ir.ParseType. Each table's row type
// is registered in the module's type space under the table name, so reducer
// and procedure signatures may refer to it. The result is not validated;
// call ModuleDef.Check before use.
func CompileModule(v cue.Value) (*schema.ModuleDef, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	m := &schema.ModuleDef{Types: ir.NewTypeSpace()}

	nameVal := v.LookupPath(cue.ParsePath("module"))
	if !nameVal.Exists() {
		return nil, &CompileError{Field: "module", Message: "module name is required", Pos: v.Pos()}
	}
	name, err := nameVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	m.Name = name

	if err := parseTypes(v, m.Types); err != nil {
		return nil, err
	}

	if m.Tables, err = parseTables(v, m.Types); err != nil {
		return nil, err
	}
	for i := range m.Tables {
		rt := m.Tables[i].RowType()
		if err := m.Types.AddStruct(rt.Struct); err != nil {
			return nil, &CompileError{Field: "tables." + m.Tables[i].Name, Message: err.Error(), Pos: v.Pos()}
		}
	}

	if m.Reducers, err = parseReducers(v, m.Types); err != nil {
		return nil, err
	}
	if m.Views, err = parseViews(v); err != nil {
		return nil, err
	}
	if m.Procedures, err = parseProcedures(v, m.Types); err != nil {
		return nil, err
	}

	return m, nil
}

// parseTypes registers enums first so struct fields may refer to any enum.
// Structs may only refer to structs declared before them.
func parseTypes(v cue.Value, ts *ir.TypeSpace) error {
	typesVal := v.LookupPath(cue.ParsePath("types"))
	if !typesVal.Exists() {
		return nil
	}

	for _, enums := range []bool{true, false} {
		iter, err := typesVal.Fields()
		if err != nil {
			return formatCUEError(err)
		}
		for iter.Next() {
			name := iter.Label()
			decl := iter.Value()
			isEnum := decl.LookupPath(cue.ParsePath("variants")).Exists()
			if isEnum != enums {
				continue
			}
			if isEnum {
				if err := parseEnum(name, decl, ts); err != nil {
					return err
				}
				continue
			}
			if err := parseStruct(name, decl, ts); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseEnum(name string, decl cue.Value, ts *ir.TypeSpace) error {
	variants, err := stringList(decl.LookupPath(cue.ParsePath("variants")))
	if err != nil {
		return err
	}
	e := &ir.EnumType{Name: name, Variants: variants}

	if defVal := decl.LookupPath(cue.ParsePath("default")); defVal.Exists() {
		def, err := defVal.String()
		if err != nil {
			return formatCUEError(err)
		}
		e.Default = e.VariantIndex(def)
		if e.Default < 0 {
			return &CompileError{
				Field:   fmt.Sprintf("types.%s.default", name),
				Message: fmt.Sprintf("unknown variant %q", def),
				Pos:     defVal.Pos(),
			}
		}
	}

	if err := ts.AddEnum(e); err != nil {
		return &CompileError{Field: "types." + name, Message: err.Error(), Pos: decl.Pos()}
	}
	return nil
}

func parseStruct(name string, decl cue.Value, ts *ir.TypeSpace) error {
	fieldsVal := decl.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return &CompileError{
			Field:   "types." + name,
			Message: "type declaration needs either variants or fields",
			Pos:     decl.Pos(),
		}
	}
	fields, err := namedTypes(fieldsVal, "types."+name, ts)
	if err != nil {
		return err
	}

	s := &ir.StructType{Name: name, Fields: make([]ir.Field, len(fields))}
	for i, f := range fields {
		s.Fields[i] = ir.Field{Name: f.Name, Type: f.Type}
	}
	if err := ts.AddStruct(s); err != nil {
		return &CompileError{Field: "types." + name, Message: err.Error(), Pos: decl.Pos()}
	}
	return nil
}

func parseTables(v cue.Value, ts *ir.TypeSpace) ([]schema.TableDef, error) {
	tablesVal := v.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, nil
	}
	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var tables []schema.TableDef
	for iter.Next() {
		name := iter.Label()
		decl := iter.Value()
		field := "tables." + name

		t := schema.TableDef{Name: name, Visibility: schema.Public}

		columnsVal := decl.LookupPath(cue.ParsePath("columns"))
		if !columnsVal.Exists() {
			return nil, &CompileError{Field: field + ".columns", Message: "table columns are required", Pos: decl.Pos()}
		}
		cols, err := namedTypes(columnsVal, field, ts)
		if err != nil {
			return nil, err
		}
		for _, c := range cols {
			t.Columns = append(t.Columns, schema.Column{Name: c.Name, Type: c.Type})
		}

		if t.PrimaryKey, err = optionalString(decl, "primary_key"); err != nil {
			return nil, err
		}
		if t.AutoInc, err = optionalBool(decl, "auto_inc"); err != nil {
			return nil, err
		}
		vis, err := optionalString(decl, "visibility")
		if err != nil {
			return nil, err
		}
		if vis != "" {
			t.Visibility = schema.Visibility(vis)
		}

		if t.Indexes, err = parseIndexes(decl, field); err != nil {
			return nil, err
		}

		if schedVal := decl.LookupPath(cue.ParsePath("scheduled")); schedVal.Exists() {
			reducer, err := optionalString(schedVal, "reducer")
			if err != nil {
				return nil, err
			}
			at, err := optionalString(schedVal, "at")
			if err != nil {
				return nil, err
			}
			if reducer == "" || at == "" {
				return nil, &CompileError{
					Field:   field + ".scheduled",
					Message: "scheduled tables need both reducer and at",
					Pos:     schedVal.Pos(),
				}
			}
			t.Schedule = &schema.ScheduleDef{Reducer: reducer, AtColumn: at}
		}

		tables = append(tables, t)
	}
	return tables, nil
}

func parseIndexes(decl cue.Value, field string) ([]schema.IndexDef, error) {
	indexesVal := decl.LookupPath(cue.ParsePath("indexes"))
	if !indexesVal.Exists() {
		return nil, nil
	}
	iter, err := indexesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []schema.IndexDef
	for iter.Next() {
		name := iter.Label()
		idx := schema.IndexDef{Name: name, Kind: schema.IndexBTree}

		kind, err := optionalString(iter.Value(), "kind")
		if err != nil {
			return nil, err
		}
		if kind != "" {
			idx.Kind = schema.IndexKind(kind)
		}

		colsVal := iter.Value().LookupPath(cue.ParsePath("columns"))
		if !colsVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("%s.indexes.%s.columns", field, name),
				Message: "index columns are required",
				Pos:     iter.Value().Pos(),
			}
		}
		if idx.Columns, err = stringList(colsVal); err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

func parseReducers(v cue.Value, ts *ir.TypeSpace) ([]schema.ReducerDef, error) {
	reducersVal := v.LookupPath(cue.ParsePath("reducers"))
	if !reducersVal.Exists() {
		return nil, nil
	}
	iter, err := reducersVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []schema.ReducerDef
	for iter.Next() {
		name := iter.Label()
		params, err := parseParams(iter.Value(), "reducers."+name, ts)
		if err != nil {
			return nil, err
		}
		out = append(out, schema.ReducerDef{Name: name, Params: params})
	}
	return out, nil
}

func parseViews(v cue.Value) ([]schema.ViewDef, error) {
	viewsVal := v.LookupPath(cue.ParsePath("views"))
	if !viewsVal.Exists() {
		return nil, nil
	}
	iter, err := viewsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []schema.ViewDef
	for iter.Next() {
		name := iter.Label()
		decl := iter.Value()
		vw := schema.ViewDef{Name: name}

		if vw.Table, err = optionalString(decl, "table"); err != nil {
			return nil, err
		}
		if vw.Table == "" {
			return nil, &CompileError{Field: "views." + name + ".table", Message: "view table is required", Pos: decl.Pos()}
		}
		returns, err := optionalString(decl, "returns")
		if err != nil {
			return nil, err
		}
		if returns == "" {
			returns = string(schema.ReturnRows)
		}
		vw.Returns = schema.ReturnShape(returns)
		if vw.Public, err = optionalBool(decl, "public"); err != nil {
			return nil, err
		}
		if vw.Anonymous, err = optionalBool(decl, "anonymous"); err != nil {
			return nil, err
		}
		out = append(out, vw)
	}
	return out, nil
}

func parseProcedures(v cue.Value, ts *ir.TypeSpace) ([]schema.ProcedureDef, error) {
	procsVal := v.LookupPath(cue.ParsePath("procedures"))
	if !procsVal.Exists() {
		return nil, nil
	}
	iter, err := procsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []schema.ProcedureDef
	for iter.Next() {
		name := iter.Label()
		decl := iter.Value()
		field := "procedures." + name

		params, err := parseParams(decl, field, ts)
		if err != nil {
			return nil, err
		}
		returnsVal := decl.LookupPath(cue.ParsePath("returns"))
		if !returnsVal.Exists() {
			return nil, &CompileError{Field: field + ".returns", Message: "procedure return type is required", Pos: decl.Pos()}
		}
		returns, err := typeOf(returnsVal, field+".returns", ts)
		if err != nil {
			return nil, err
		}
		out = append(out, schema.ProcedureDef{Name: name, Params: params, Returns: returns})
	}
	return out, nil
}

func parseParams(decl cue.Value, field string, ts *ir.TypeSpace) ([]schema.Param, error) {
	paramsVal := decl.LookupPath(cue.ParsePath("params"))
	if !paramsVal.Exists() {
		return nil, nil
	}
	named, err := namedTypes(paramsVal, field, ts)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Param, len(named))
	for i, n := range named {
		out[i] = schema.Param{Name: n.Name, Type: n.Type}
	}
	return out, nil
}

type namedType struct {
	Name string
	Type ir.Type
}

// namedTypes reads a struct of name: "type expression" pairs in declaration order.
func namedTypes(v cue.Value, field string, ts *ir.TypeSpace) ([]namedType, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []namedType
	for iter.Next() {
		name := iter.Label()
		typ, err := typeOf(iter.Value(), field+"."+name, ts)
		if err != nil {
			return nil, err
		}
		out = append(out, namedType{Name: name, Type: typ})
	}
	return out, nil
}

func typeOf(v cue.Value, field string, ts *ir.TypeSpace) (ir.Type, error) {
	expr, err := v.String()
	if err != nil {
		return ir.Type{}, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("type must be a string expression, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
	typ, err := ir.ParseType(expr, ts)
	if err != nil {
		return ir.Type{}, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return typ, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, path string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
