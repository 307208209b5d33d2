package testmodule

import (
	"slices"
	"time"

	"github.com/roach88/tablet/internal/datastore"
	"github.com/roach88/tablet/internal/engine"
	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/query"
)

// scheduledReducer bumps the row's counters, which keeps it armed, then
// seeds a default datatypes row while there are fewer than ten and
// rewrites every datatypes row with Advance.
func scheduledReducer(ctx *engine.ReducerContext, args []ir.Value) error {
	row := args[0].(ir.Struct)
	row = row.
		With(PrivateCount, row[PrivateCount].(ir.U64)+1).
		With(PublicCount, row[PublicCount].(ir.U64)+1)

	scheduled, err := ctx.DB.Table(Scheduled)
	if err != nil {
		return err
	}
	if _, err := scheduled.Update(row); err != nil {
		return err
	}

	datatypes, err := ctx.DB.Table(Datatypes)
	if err != nil {
		return err
	}
	if err := seed(datatypes); err != nil {
		return err
	}
	for old := range datatypes.Iter() {
		if _, err := datatypes.Update(Advance(old)); err != nil {
			return err
		}
	}
	return nil
}

func seedDefaultRow(ctx *engine.ReducerContext, _ []ir.Value) error {
	datatypes, err := ctx.DB.Table(Datatypes)
	if err != nil {
		return err
	}
	return seed(datatypes)
}

func seed(datatypes *datastore.TableHandle) error {
	if datatypes.Count() >= MaxDatatypesRows {
		return nil
	}
	_, err := datatypes.Insert(DefaultDatatypesRow())
	return err
}

// startIntegrationTests arms a one-second interval row and adds the keyless
// greeting row.
func startIntegrationTests(ctx *engine.ReducerContext, _ []ir.Value) error {
	scheduled, err := ctx.DB.Table(Scheduled)
	if err != nil {
		return err
	}
	if _, err := scheduled.Insert(ScheduledRow(0, ir.IntervalOf(time.Second), 0, 0)); err != nil {
		return err
	}

	noPK, err := ctx.DB.Table(NoPK)
	if err != nil {
		return err
	}
	_, err = noPK.Insert(ir.Struct{ir.U64(1), ir.String("Hello World")})
	return err
}

func clearIntegrationTests(ctx *engine.ReducerContext, _ []ir.Value) error {
	for _, name := range []string{Scheduled, Datatypes, NoPK} {
		h, err := ctx.DB.Table(name)
		if err != nil {
			return err
		}
		for row := range h.Iter() {
			if err := h.Delete(row); err != nil {
				return err
			}
		}
	}
	return nil
}

func anonymousAllTypes(ctx *engine.ViewContext) (engine.ViewResult, error) {
	ix, err := index(ctx, Datatypes, "t_u32")
	if err != nil {
		return engine.ViewResult{}, err
	}
	return engine.RowsResult(slices.Collect(ix.Filter(allU32))), nil
}

func firstTypeRow(ctx *engine.ViewContext) (engine.ViewResult, error) {
	ix, err := index(ctx, Datatypes, "t_u32")
	if err != nil {
		return engine.ViewResult{}, err
	}
	var rows []ir.Struct
	if row, ok := ix.First(allU32); ok {
		rows = append(rows, row)
	}
	return engine.RowsResult(rows), nil
}

func u32At30(ctx *engine.ViewContext) (engine.ViewResult, error) {
	ix, err := index(ctx, Datatypes, "t_u32")
	if err != nil {
		return engine.ViewResult{}, err
	}
	return engine.RowsResult(slices.Collect(ix.Filter(datastore.Point(ir.U32(30))))), nil
}

// publicScheduledCount reports the first scheduled row with the private
// counter redacted to zero.
func publicScheduledCount(ctx *engine.ViewContext) (engine.ViewResult, error) {
	return scheduledCount(ctx, true)
}

func privateScheduledCount(ctx *engine.ViewContext) (engine.ViewResult, error) {
	return scheduledCount(ctx, false)
}

func scheduledCount(ctx *engine.ViewContext, redact bool) (engine.ViewResult, error) {
	ix, err := index(ctx, Scheduled, "get_by_public_count")
	if err != nil {
		return engine.ViewResult{}, err
	}
	row, ok := ix.First(allU64)
	if !ok {
		return engine.RowsResult(nil), nil
	}
	private := row[PrivateCount]
	if redact {
		private = ir.U64(0)
	}
	out := ir.Struct{
		ScheduledID:  row[ScheduledID],
		H1:           ir.U16(1),
		ScheduledAt:  row[ScheduledAt],
		H2:           ir.U16(1),
		PublicCount:  row[PublicCount],
		PrivateCount: private,
	}
	return engine.RowsResult([]ir.Struct{out}), nil
}

func noPKOption(ctx *engine.ViewContext) (engine.ViewResult, error) {
	ix, err := index(ctx, NoPK, "row")
	if err != nil {
		return engine.ViewResult{}, err
	}
	return engine.OptionResult(ix.First(allU64)), nil
}

func noPKQuery(*engine.ViewContext) (engine.ViewResult, error) {
	return engine.QueryResult(query.From(NoPK).Where(query.Field("row").Gt(ir.U64(0))).Build()), nil
}

func noPKVec(ctx *engine.ViewContext) (engine.ViewResult, error) {
	ix, err := index(ctx, NoPK, "row")
	if err != nil {
		return engine.ViewResult{}, err
	}
	return engine.RowsResult(slices.Collect(ix.Filter(allU64))), nil
}

// option returns the first scheduled row whose public count is in 5..100,
// upper bound excluded.
func option(ctx *engine.ViewContext) (engine.ViewResult, error) {
	ix, err := index(ctx, Scheduled, "get_by_public_count")
	if err != nil {
		return engine.ViewResult{}, err
	}
	return engine.OptionResult(ix.First(datastore.Between(ir.U64(5), ir.U64(99)))), nil
}

func queryView(*engine.ViewContext) (engine.ViewResult, error) {
	return engine.QueryResult(query.From(Scheduled).Where(query.Field("h1").Eq(ir.U16(1))).Build()), nil
}

func getDatatypesRow(ctx *engine.ProcedureContext, args []ir.Value) (ir.Value, bool, error) {
	found, err := ctx.WithTx(func(db *engine.DB) (ir.Value, bool, error) {
		datatypes, err := db.Table(Datatypes)
		if err != nil {
			return nil, false, err
		}
		row, ok := datatypes.Find(args[0])
		return row, ok, nil
	})
	if err != nil {
		return nil, false, err
	}
	return found.Some, found.IsSome(), nil
}

func index(ctx *engine.ViewContext, table, name string) (*datastore.IndexHandle, error) {
	h, err := ctx.DB.Table(table)
	if err != nil {
		return nil, err
	}
	return h.Index(name)
}
