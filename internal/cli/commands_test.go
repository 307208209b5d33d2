package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scheduledRow = `{"h1":1,"h2":1,"private_count":0,"public_count":0,"scheduled_at":{"Interval":1000000},"scheduled_id":1}`

func TestSchema_Hosted(t *testing.T) {
	out, err := execute(t, "schema")
	require.NoError(t, err)

	assert.Contains(t, out, "module integration")
	assert.Contains(t, out, "table test_scheduled_table (public)")
	assert.Contains(t, out, "  scheduled_at: schedule_at")
	assert.Contains(t, out, "  primary key: scheduled_id auto_inc")
	assert.Contains(t, out, "  scheduled: test_scheduled_reducer at scheduled_at")
	assert.Contains(t, out, "table test_no_pk_table (private)")
	assert.Contains(t, out, "reducer test_scheduled_reducer(row: test_scheduled_table)")
	assert.Contains(t, out, "view test_no_pk_vec: rows of test_no_pk_table (public, anonymous)")
	assert.Contains(t, out, "procedure procedure_test_get_table_datatypes_row(t_u64: u64) option<test_table_datatypes>")
}

func TestSchema_JSON(t *testing.T) {
	out, err := execute(t, "schema", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   SchemaSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "integration", resp.Data.Module)
	assert.Len(t, resp.Data.Tables, 3)
	assert.Len(t, resp.Data.Reducers, 4)
	assert.Len(t, resp.Data.Views, 10)
	require.Len(t, resp.Data.Procedures, 1)
	assert.Equal(t, []string{"t_u64: u64"}, resp.Data.Procedures[0].Params)
}

func TestSchema_Dir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module.cue"), []byte(`package demo

module: "demo"
tables: items: {
	columns: {id: "u64", name: "string"}
	primary_key: "id"
	indexes: by_name: columns: ["name"]
}
reducers: add_item: params: {name: "string"}
`), 0o644))

	out, err := execute(t, "schema", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "module demo")
	assert.Contains(t, out, "index: by_name(name)")
	assert.Contains(t, out, "reducer add_item(name: string)")
}

func TestSchema_DirInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module.cue"), []byte(`package demo

module: "demo"
tables: items: {
	columns: {id: "u64"}
	primary_key: "missing"
}
`), 0o644))

	out, err := execute(t, "schema", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [")
}

func TestSchema_DirMissing(t *testing.T) {
	out, err := execute(t, "schema", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Contains(t, out, "Error [E005]")
}

func TestCall_StatePersistsAcrossRuns(t *testing.T) {
	journal := journalPath(t)

	out, err := execute(t, "call", "start_integration_tests", "--journal", journal)
	require.NoError(t, err)
	assert.Equal(t, "start_integration_tests: committed 2 row changes\n", out)

	out, err = execute(t, "view", "test_no_pk_vec", "--caller", "anonymous", "--journal", journal)
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"Hello World","row":1}]`+"\n", out)

	out, err = execute(t, "view", "test_public_scheduled_count", "--journal", journal)
	require.NoError(t, err)
	assert.Equal(t, "["+scheduledRow+"]\n", out)

	// The restored sequence continues after the journaled rows.
	_, err = execute(t, "call", "seed_default_row", "--journal", journal)
	require.NoError(t, err)
	_, err = execute(t, "call", "seed_default_row", "--journal", journal)
	require.NoError(t, err)

	out, err = execute(t, "query", "test_table_datatypes", "--where", "t_u64=2", "--journal", journal)
	require.NoError(t, err)
	assert.Contains(t, out, `"t_u64":2`)
}

func TestCall_JSON(t *testing.T) {
	out, err := execute(t, "call", "start_integration_tests", "--format", "json", "--journal", journalPath(t))
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   CallResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "start_integration_tests", resp.Data.Reducer)
	assert.Equal(t, uint64(1), resp.Data.Version)
	assert.Equal(t, 2, resp.Data.Changes)
	assert.NotEmpty(t, resp.Data.TxID)
}

func TestCall_NoChanges(t *testing.T) {
	out, err := execute(t, "call", "clear_integration_tests", "--journal", journalPath(t))
	require.NoError(t, err)
	assert.Equal(t, "clear_integration_tests: no changes\n", out)
}

func TestCall_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code string
	}{
		{"unknown reducer", []string{"call", "missing"}, "NO_SUCH_REDUCER"},
		{"bad arguments", []string{"call", "seed_default_row", "[1]"}, "BAD_ARGUMENTS"},
		{"malformed arguments", []string{"call", "test_scheduled_reducer", "{"}, "BAD_ARGUMENTS"},
		{"unknown view", []string{"view", "missing"}, "NO_SUCH_VIEW"},
		{"unknown procedure", []string{"proc", "missing"}, "NO_SUCH_PROCEDURE"},
		{"private table", []string{"query", "test_no_pk_table"}, "PRIVATE_TABLE"},
		{"unknown table", []string{"query", "missing"}, "INVALID_QUERY"},
		{"unknown column", []string{"query", "test_scheduled_table", "--where", "nope=1"}, "INVALID_QUERY"},
		{"malformed filter", []string{"query", "test_scheduled_table", "--where", "nope"}, "INVALID_QUERY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(tt.args, "--journal", journalPath(t))
			out, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, "Error ["+tt.code+"]")
		})
	}
}

func TestCall_ErrorJSON(t *testing.T) {
	out, err := execute(t, "call", "missing", "--format", "json", "--journal", journalPath(t))
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NO_SUCH_REDUCER", resp.Error.Code)
}

func TestProc(t *testing.T) {
	journal := journalPath(t)

	out, err := execute(t, "proc", "procedure_test_get_table_datatypes_row", "[1]", "--journal", journal)
	require.NoError(t, err)
	assert.Equal(t, "null\n", out)

	_, err = execute(t, "call", "seed_default_row", "--journal", journal)
	require.NoError(t, err)

	out, err = execute(t, "proc", "procedure_test_get_table_datatypes_row", "[1]", "--journal", journal)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "{"), out)
	assert.Contains(t, out, `"t_u64":1`)
	assert.Contains(t, out, `"t_test_enum":"A"`)
}

func TestQuery_MirrorMatchesMemory(t *testing.T) {
	journal := journalPath(t)
	_, err := execute(t, "call", "start_integration_tests", "--journal", journal)
	require.NoError(t, err)

	memory, err := execute(t, "query", "test_scheduled_table", "--where", "scheduled_id=1", "--journal", journal)
	require.NoError(t, err)
	mirror, err := execute(t, "query", "test_scheduled_table", "--where", "scheduled_id=1", "--mirror", "--journal", journal)
	require.NoError(t, err)

	assert.Equal(t, "["+scheduledRow+"]\n", memory)
	assert.Equal(t, memory, mirror)

	none, err := execute(t, "query", "test_scheduled_table", "--where", "h1=2", "--mirror", "--journal", journal)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", none)
}

func TestBuildQuery_BareStrings(t *testing.T) {
	def := mustTable(t, "test_table_datatypes")

	q, err := buildQuery(def, []string{"t_string=hello", `t_u32=3`})
	require.NoError(t, err)
	assert.Equal(t, "test_table_datatypes", q.From)
	assert.NotNil(t, q.Filter)

	_, err = buildQuery(def, []string{"t_u32=abc"})
	assert.Error(t, err)
}

func TestLog(t *testing.T) {
	journal := journalPath(t)

	out, err := execute(t, "log", "--journal", journal)
	require.NoError(t, err)
	assert.Equal(t, "No commits.\n", out)

	_, err = execute(t, "call", "start_integration_tests", "--journal", journal)
	require.NoError(t, err)
	_, err = execute(t, "call", "seed_default_row", "--journal", journal)
	require.NoError(t, err)

	out, err = execute(t, "log", "--ops", "--journal", journal)
	require.NoError(t, err)
	assert.Contains(t, out, "start_integration_tests")
	assert.Contains(t, out, "seed_default_row")
	assert.Contains(t, out, `insert test_no_pk_table {"name":"Hello World","row":1}`)

	out, err = execute(t, "log", "--format", "json", "--table", "test_no_pk_table", "--journal", journal)
	require.NoError(t, err)
	var resp struct {
		Status string     `json:"status"`
		Data   []LogEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "start_integration_tests", resp.Data[0].Origin)
	assert.Empty(t, resp.Data[0].Ops)

	out, err = execute(t, "log", "--limit", "1", "--format", "json", "--journal", journal)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "seed_default_row", resp.Data[0].Origin)
}
