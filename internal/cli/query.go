package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/query"
	"github.com/roach88/tablet/internal/schema"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Where  []string // field=value, ANDed
	Mirror bool     // evaluate against the journal mirror with SQL
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "Read rows of a public table",
		Long: `Read the rows of a public table, optionally filtered by column values.

Each --where value is parsed as JSON for the column's type; bare words are
taken as strings. Private tables cannot be read directly. With --mirror
the query runs as SQL against the journal's row mirror instead of the
in-memory datastore; both return the same rows.

Examples:
  tablet query test_scheduled_table
  tablet query test_table_datatypes --where t_u32=3 --where t_string=2
  tablet query test_scheduled_table --mirror --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "filter as field=value (repeatable)")
	cmd.Flags().BoolVar(&opts.Mirror, "mirror", false, "evaluate against the journal mirror")

	return cmd
}

func runQuery(opts *QueryOptions, table string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := formatter(opts.RootOptions, cmd)

	h, err := openHost(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	def, ok := h.module.Table(table)
	if !ok {
		return routineFailed(out, "query "+table, &query.QueryError{Table: table, Message: "unknown table"})
	}
	q, err := buildQuery(def, opts.Where)
	if err != nil {
		return routineFailed(out, "query "+table, err)
	}

	// ReadTable enforces visibility and validates q even when the mirror
	// answers.
	rows, err := h.engine.ReadTable(ctx, q)
	if err != nil {
		return routineFailed(out, "query "+table, err)
	}
	if opts.Mirror {
		out.VerboseLog("evaluating %s against the journal mirror", q)
		if rows, err = h.journal.QueryRows(ctx, def, q); err != nil {
			return routineFailed(out, "query "+table, err)
		}
	}

	vec := make(ir.Vec, len(rows))
	for i, r := range rows {
		vec[i] = r
	}
	data, err := ir.MarshalCanonical(ir.VecOf(def.RowType()), vec)
	if err != nil {
		return routineFailed(out, "query "+table, err)
	}
	return out.Success(json.RawMessage(data))
}

// buildQuery turns field=value filters into an equality query.
func buildQuery(def *schema.TableDef, where []string) (*query.Select, error) {
	b := query.From(def.Name)
	for _, w := range where {
		field, raw, ok := strings.Cut(w, "=")
		if !ok || field == "" {
			return nil, &query.QueryError{Table: def.Name, Message: fmt.Sprintf("filter %q is not field=value", w)}
		}
		i := def.ColumnIndex(field)
		if i < 0 {
			return nil, &query.QueryError{Table: def.Name, Field: field, Message: "unknown column"}
		}
		v, err := parseValue(def.Columns[i].Type, raw)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", field, err)
		}
		b.Where(query.Field(field).Eq(v))
	}
	return b.Build(), nil
}

// parseValue reads raw as JSON for t, falling back to a JSON string so
// string columns can be filtered without quoting.
func parseValue(t ir.Type, raw string) (ir.Value, error) {
	v, err := ir.FromJSON(t, []byte(raw))
	if err == nil {
		return v, nil
	}
	quoted, qerr := json.Marshal(raw)
	if qerr != nil {
		return nil, err
	}
	if v, qerr := ir.FromJSON(t, quoted); qerr == nil {
		return v, nil
	}
	return nil, err
}
