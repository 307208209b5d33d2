package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tablet/internal/harness"
	"github.com/roach88/tablet/internal/schema"
)

// SchemaSummary is the printable form of a module declaration.
type SchemaSummary struct {
	Module     string           `json:"module"`
	Tables     []TableSummary   `json:"tables"`
	Reducers   []RoutineSummary `json:"reducers"`
	Views      []ViewSummary    `json:"views"`
	Procedures []RoutineSummary `json:"procedures"`
}

// TableSummary describes one table.
type TableSummary struct {
	Name       string   `json:"name"`
	Visibility string   `json:"visibility"`
	PrimaryKey string   `json:"primary_key,omitempty"`
	AutoInc    bool     `json:"auto_inc,omitempty"`
	Columns    []string `json:"columns"`           // "name: type"
	Indexes    []string `json:"indexes,omitempty"` // "name(col, ...)"
	Scheduled  string   `json:"scheduled,omitempty"`
}

// RoutineSummary describes a reducer or procedure.
type RoutineSummary struct {
	Name    string   `json:"name"`
	Params  []string `json:"params,omitempty"` // "name: type"
	Returns string   `json:"returns,omitempty"`
}

// ViewSummary describes one view.
type ViewSummary struct {
	Name      string `json:"name"`
	Table     string `json:"table"`
	Returns   string `json:"returns"`
	Public    bool   `json:"public"`
	Anonymous bool   `json:"anonymous,omitempty"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [cue-dir]",
		Short: "Validate and print a module declaration",
		Long: `Print the declaration of the hosted module, or compile and validate
the CUE module in a directory and print that.

Validation fails fast on duplicate names, missing or multiple primary
keys, bad auto-increment columns, unknown index columns and scheduled
tables without a schedule_at column or bound reducer.

Examples:
  tablet schema
  tablet schema ./module
  tablet schema ./module --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runSchema(opts *RootOptions, args []string, cmd *cobra.Command) error {
	out := formatter(opts, cmd)

	var module *schema.ModuleDef
	if len(args) == 1 {
		m, err := loadSchemaDir(args[0])
		if err != nil {
			code := ErrCodeGeneric
			var le *LoadError
			if errors.As(err, &le) {
				code = le.Code
			}
			_ = out.Error(code, err.Error(), nil)
			return WrapExitError(ExitFailure, "schema is invalid", err)
		}
		module = m
	} else {
		factory, ok := harness.LookupModule(opts.Module)
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown module %q", opts.Module))
		}
		m, _, err := factory()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to build module", err)
		}
		module = m
	}

	summary := Summarize(module)
	if opts.Format == "json" {
		return out.Success(summary)
	}
	writeSchemaText(cmd.OutOrStdout(), summary)
	return nil
}

// Summarize flattens a module declaration for printing.
func Summarize(m *schema.ModuleDef) SchemaSummary {
	s := SchemaSummary{
		Module:     m.Name,
		Tables:     []TableSummary{},
		Reducers:   []RoutineSummary{},
		Views:      []ViewSummary{},
		Procedures: []RoutineSummary{},
	}
	for _, t := range m.Tables {
		ts := TableSummary{
			Name:       t.Name,
			Visibility: string(t.Visibility),
			PrimaryKey: t.PrimaryKey,
			AutoInc:    t.AutoInc,
		}
		for _, c := range t.Columns {
			ts.Columns = append(ts.Columns, c.Name+": "+c.Type.String())
		}
		for _, ix := range t.Indexes {
			ts.Indexes = append(ts.Indexes, ix.Name+"("+strings.Join(ix.Columns, ", ")+")")
		}
		if t.Schedule != nil {
			ts.Scheduled = t.Schedule.Reducer + " at " + t.Schedule.AtColumn
		}
		s.Tables = append(s.Tables, ts)
	}
	for _, r := range m.Reducers {
		s.Reducers = append(s.Reducers, RoutineSummary{Name: r.Name, Params: params(r.Params)})
	}
	for _, v := range m.Views {
		s.Views = append(s.Views, ViewSummary{
			Name:      v.Name,
			Table:     v.Table,
			Returns:   string(v.Returns),
			Public:    v.Public,
			Anonymous: v.Anonymous,
		})
	}
	for _, p := range m.Procedures {
		s.Procedures = append(s.Procedures, RoutineSummary{
			Name:    p.Name,
			Params:  params(p.Params),
			Returns: "option<" + p.Returns.String() + ">",
		})
	}
	return s
}

func params(ps []schema.Param) []string {
	var out []string
	for _, p := range ps {
		out = append(out, p.Name+": "+p.Type.String())
	}
	return out
}

func writeSchemaText(w io.Writer, s SchemaSummary) {
	fmt.Fprintf(w, "module %s\n", s.Module)
	for _, t := range s.Tables {
		fmt.Fprintf(w, "\ntable %s (%s)\n", t.Name, t.Visibility)
		for _, c := range t.Columns {
			fmt.Fprintf(w, "  %s\n", c)
		}
		if t.PrimaryKey != "" {
			pk := t.PrimaryKey
			if t.AutoInc {
				pk += " auto_inc"
			}
			fmt.Fprintf(w, "  primary key: %s\n", pk)
		}
		for _, ix := range t.Indexes {
			fmt.Fprintf(w, "  index: %s\n", ix)
		}
		if t.Scheduled != "" {
			fmt.Fprintf(w, "  scheduled: %s\n", t.Scheduled)
		}
	}
	if len(s.Reducers) > 0 {
		fmt.Fprintln(w)
	}
	for _, r := range s.Reducers {
		fmt.Fprintf(w, "reducer %s(%s)\n", r.Name, strings.Join(r.Params, ", "))
	}
	if len(s.Views) > 0 {
		fmt.Fprintln(w)
	}
	for _, v := range s.Views {
		access := "private"
		if v.Public {
			access = "public"
		}
		if v.Anonymous {
			access += ", anonymous"
		}
		fmt.Fprintf(w, "view %s: %s of %s (%s)\n", v.Name, v.Returns, v.Table, access)
	}
	if len(s.Procedures) > 0 {
		fmt.Fprintln(w)
	}
	for _, p := range s.Procedures {
		fmt.Fprintf(w, "procedure %s(%s) %s\n", p.Name, strings.Join(p.Params, ", "), p.Returns)
	}
}
