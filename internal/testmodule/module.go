package testmodule

import (
	_ "embed"
	"fmt"
	"math"
	"strconv"

	"github.com/roach88/tablet/internal/compiler"
	"github.com/roach88/tablet/internal/datastore"
	"github.com/roach88/tablet/internal/engine"
	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/schema"
)

//go:embed module.cue
var moduleSource string

// Table names.
const (
	Datatypes = "test_table_datatypes"
	Scheduled = "test_scheduled_table"
	NoPK      = "test_no_pk_table"
)

// Columns of test_table_datatypes, in declaration order.
const (
	TU64 = iota
	TU8
	TU16
	TU32
	TU128
	TF32
	TF64
	TI8
	TI16
	TI32
	TI64
	TString
	TVecString
	TVecU8
	TOptString
	TOptU64
	TTestEnum
	TTestEnumVec
	TTestEnumOption
	TTestType
	TTestTypeVec
	TTestTypeOption
)

// Columns of test_scheduled_table.
const (
	ScheduledID = iota
	H1
	ScheduledAt
	H2
	PublicCount
	PrivateCount
)

// Columns of test_no_pk_table.
const (
	NoPKRow = iota
	NoPKName
)

// MaxDatatypesRows bounds default seeding.
const MaxDatatypesRows = 10

// Variants of TestEnum.
var (
	EnumA = ir.Enum{Tag: 0}
	EnumB = ir.Enum{Tag: 1}
)

// Source returns the module's CUE declaration.
func Source() string {
	return moduleSource
}

// Module compiles and validates the module declaration.
func Module() (*schema.ModuleDef, error) {
	m, err := compiler.CompileSource("integration.cue", moduleSource)
	if err != nil {
		return nil, fmt.Errorf("compile integration module: %w", err)
	}
	if err := m.Check(); err != nil {
		return nil, err
	}
	return m, nil
}

// Registry binds the module's reducers, views and procedure.
func Registry() *engine.Registry {
	return engine.NewRegistry().
		Reducer("test_scheduled_reducer", scheduledReducer).
		Reducer("seed_default_row", seedDefaultRow).
		Reducer("start_integration_tests", startIntegrationTests).
		Reducer("clear_integration_tests", clearIntegrationTests).
		View("test_anonymous_all_types", anonymousAllTypes).
		View("test_first_type_row", firstTypeRow).
		View("test_u32_at_30", u32At30).
		View("test_public_scheduled_count", publicScheduledCount).
		View("test_private_scheduled_count", privateScheduledCount).
		View("test_no_pk_option", noPKOption).
		View("test_no_pk_query", noPKQuery).
		View("test_no_pk_vec", noPKVec).
		View("test_option", option).
		View("test_query", queryView).
		Procedure("procedure_test_get_table_datatypes_row", getDatatypesRow)
}

// New hosts the module on a fresh engine.
func New(opts ...engine.EngineOption) (*engine.Engine, error) {
	m, err := Module()
	if err != nil {
		return nil, err
	}
	return engine.New(m, Registry(), opts...)
}

// DefaultTestType is the declared TestType default.
func DefaultTestType() ir.Struct {
	return ir.Struct{ir.String("test_name"), ir.U64(1)}
}

// DefaultDatatypesRow is the declared default row. It carries example data:
// single-element sequences and present options, not zero values.
func DefaultDatatypesRow() ir.Struct {
	return ir.Struct{
		TU64:            ir.U64(0),
		TU8:             ir.U8(0),
		TU16:            ir.U16(0),
		TU32:            ir.U32(0),
		TU128:           ir.U128{},
		TF32:            ir.F32(0),
		TF64:            ir.F64(0),
		TI8:             ir.I8(0),
		TI16:            ir.I16(0),
		TI32:            ir.I32(0),
		TI64:            ir.I64(0),
		TString:         ir.String(""),
		TVecString:      ir.Vec{ir.String("")},
		TVecU8:          ir.Vec{ir.U8(0)},
		TOptString:      ir.Some(ir.String("")),
		TOptU64:         ir.Some(ir.U64(0)),
		TTestEnum:       EnumA,
		TTestEnumVec:    ir.Vec{EnumA},
		TTestEnumOption: ir.Some(EnumA),
		TTestType:       DefaultTestType(),
		TTestTypeVec:    ir.Vec{DefaultTestType()},
		TTestTypeOption: ir.Some(DefaultTestType()),
	}
}

// Advance returns the row the scheduled reducer rewrites old into:
// unsigned counters up by one, signed down by one, floats down by 0.0001,
// strings rendered from the old values, options toggled, enums and nested
// structs reset.
func Advance(old ir.Struct) ir.Struct {
	u8 := old[TU8].(ir.U8)
	i16 := old[TI16].(ir.I16)
	u8s := ir.String(strconv.FormatUint(uint64(u8), 10))

	optString := ir.Some(ir.String("Some"))
	if old[TOptString].(ir.Option).IsSome() {
		optString = ir.None()
	}
	optU64 := ir.Some(old[TU64])
	if old[TOptU64].(ir.Option).IsSome() {
		optU64 = ir.None()
	}

	return ir.Struct{
		TU64:            old[TU64],
		TU8:             u8 + 1,
		TU16:            old[TU16].(ir.U16) + 1,
		TU32:            old[TU32].(ir.U32) + 1,
		TU128:           old[TU128].(ir.U128).Add(1),
		TF32:            old[TF32].(ir.F32) - 0.0001,
		TF64:            old[TF64].(ir.F64) - 0.0001,
		TI8:             old[TI8].(ir.I8) - 1,
		TI16:            i16 - 1,
		TI32:            old[TI32].(ir.I32) - 1,
		TI64:            old[TI64].(ir.I64) - 1,
		TString:         u8s,
		TVecString:      ir.Vec{u8s, ir.String(strconv.Itoa(int(i16)))},
		TVecU8:          ir.Vec{u8, u8},
		TOptString:      optString,
		TOptU64:         optU64,
		TTestEnum:       EnumA,
		TTestEnumVec:    ir.Vec{EnumA, EnumB},
		TTestEnumOption: ir.Some(EnumA),
		TTestType:       DefaultTestType(),
		TTestTypeVec:    ir.Vec{DefaultTestType(), DefaultTestType()},
		TTestTypeOption: ir.Some(DefaultTestType()),
	}
}

// ScheduledRow builds a test_scheduled_table row. A zero id is assigned on
// insert.
func ScheduledRow(id uint64, at ir.ScheduleAt, publicCount, privateCount uint64) ir.Struct {
	return ir.Struct{
		ScheduledID:  ir.U64(id),
		H1:           ir.U16(1),
		ScheduledAt:  at,
		H2:           ir.U16(1),
		PublicCount:  ir.U64(publicCount),
		PrivateCount: ir.U64(privateCount),
	}
}

// Unbounded ranges over the index columns, written as 0..MAX.
var (
	allU32 = datastore.Between(ir.U32(0), ir.U32(math.MaxUint32))
	allU64 = datastore.Between(ir.U64(0), ir.U64(math.MaxUint64))
)
