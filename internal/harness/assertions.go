package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/schema"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// evaluateAssertions runs every assertion and returns the failure messages.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRowCount:
			err = h.assertRowCount(a)
		case AssertFinalState:
			err = h.assertFinalState(a)
		case AssertViewRows:
			err = h.assertViewRows(ctx, a)
		case AssertJournalCommits:
			err = h.assertJournalCommits(ctx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// tableRows reads every committed row of a table. Private tables are
// readable: the harness is trusted.
func (h *Harness) tableRows(table string) (*schema.TableDef, []ir.Struct, error) {
	def, ok := h.module.Table(table)
	if !ok {
		return nil, nil, fmt.Errorf("unknown table %q", table)
	}
	tx := h.engine.Datastore().BeginRead()
	defer tx.Abort()
	th, err := tx.Table(table)
	if err != nil {
		return nil, nil, err
	}
	return def, slices.Collect(th.Iter()), nil
}

func (h *Harness) assertRowCount(a Assertion) error {
	def, rows, err := h.tableRows(a.Table)
	if err != nil {
		return err
	}
	n := 0
	for _, row := range rows {
		ok, err := matchFields(def, row, a.Where)
		if err != nil {
			return err
		}
		if ok {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s matching %v", *a.Count, a.Table, a.Where),
			Actual:   fmt.Sprintf("%d rows", n),
		}
	}
	return nil
}

func (h *Harness) assertFinalState(a Assertion) error {
	def, rows, err := h.tableRows(a.Table)
	if err != nil {
		return err
	}

	var candidates []string
	for _, row := range rows {
		ok, err := matchFields(def, row, a.Where)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		ok, err = matchFields(def, row, a.Expect)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		candidates = append(candidates, describeRow(def, row))
	}

	actual := "no rows match where"
	if len(candidates) > 0 {
		actual = strings.Join(candidates, "; ")
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("a row in %s matching %v with %v", a.Table, a.Where, a.Expect),
		Actual:   actual,
	}
}

func (h *Harness) assertViewRows(ctx context.Context, a Assertion) error {
	caller := a.Caller
	if caller == "" {
		caller = DefaultCaller
	}
	out, err := h.engine.CallView(ctx, a.View, CallerFor(caller))
	if err != nil {
		return err
	}
	if a.Count != nil && len(out.Rows) != *a.Count {
		return &AssertionError{
			Type:     AssertViewRows,
			Expected: fmt.Sprintf("%d rows from %s", *a.Count, a.View),
			Actual:   fmt.Sprintf("%d rows", len(out.Rows)),
		}
	}
	if len(a.Expect) == 0 {
		return nil
	}
	if len(out.Rows) == 0 {
		return &AssertionError{
			Type:     AssertViewRows,
			Expected: fmt.Sprintf("first row of %s with %v", a.View, a.Expect),
			Actual:   "no rows",
		}
	}
	def, _ := h.module.Table(out.Table)
	ok, err := matchFields(def, out.Rows[0], a.Expect)
	if err != nil {
		return err
	}
	if !ok {
		return &AssertionError{
			Type:     AssertViewRows,
			Expected: fmt.Sprintf("first row of %s with %v", a.View, a.Expect),
			Actual:   describeRow(def, out.Rows[0]),
		}
	}
	return nil
}

func (h *Harness) assertJournalCommits(ctx context.Context, a Assertion) error {
	commits, err := h.journal.ReadCommits(ctx, a.Table, 0)
	if err != nil {
		return err
	}
	if len(commits) != *a.Count {
		return &AssertionError{
			Type:     AssertJournalCommits,
			Expected: fmt.Sprintf("%d journaled commits", *a.Count),
			Actual:   fmt.Sprintf("%d", len(commits)),
		}
	}
	return nil
}

// matchFields reports whether every field in want has the expected value
// in row (subset semantics). Values compare by their JSON form: the row
// field's canonical JSON against the scenario value re-encoded as JSON.
func matchFields(def *schema.TableDef, row ir.Struct, want map[string]any) (bool, error) {
	for name, expected := range want {
		i := def.ColumnIndex(name)
		if i < 0 {
			return false, fmt.Errorf("table %s has no column %q", def.Name, name)
		}
		got, err := ir.MarshalCanonical(def.Columns[i].Type, row[i])
		if err != nil {
			return false, err
		}
		exp, err := json.Marshal(expected)
		if err != nil {
			return false, fmt.Errorf("column %s: encode expected value: %w", name, err)
		}
		equal, err := jsonEqual(got, exp)
		if err != nil {
			return false, fmt.Errorf("column %s: %w", name, err)
		}
		if !equal {
			return false, nil
		}
	}
	return true, nil
}

func jsonEqual(a, b []byte) (bool, error) {
	va, err := decodeJSON(a)
	if err != nil {
		return false, err
	}
	vb, err := decodeJSON(b)
	if err != nil {
		return false, err
	}
	return reflect.DeepEqual(va, vb), nil
}

// decodeJSON decodes with numbers kept as json.Number so large integers
// compare exactly.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func describeRow(def *schema.TableDef, row ir.Struct) string {
	data, err := ir.MarshalCanonical(def.RowType(), row)
	if err != nil {
		return fmt.Sprintf("%v", row)
	}
	return string(data)
}
