package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: basic
description: "Seed and read back"
redaction: private
setup:
  - call: start_integration_tests
steps:
  - call: seed_default_row
  - advance: 1s
  - view: test_option
    caller: anonymous
    expect_rows: 0
  - proc: procedure_test_get_table_datatypes_row
    args: [1]
assertions:
  - type: row_count
    table: test_table_datatypes
    count: 1
  - type: final_state
    table: test_scheduled_table
    where: {scheduled_id: 1}
    expect: {public_count: 1}
`))
	require.NoError(t, err)

	assert.Equal(t, "basic", s.Name)
	assert.Equal(t, DefaultModule, s.Module)
	assert.Equal(t, "private", s.Redaction)
	require.Len(t, s.Setup, 1)
	require.Len(t, s.Steps, 4)
	require.Len(t, s.Assertions, 2)

	kind, name := s.Steps[1].Kind()
	assert.Equal(t, KindAdvance, kind)
	assert.Equal(t, "1s", name)

	require.NotNil(t, s.Steps[2].ExpectRows)
	assert.Equal(t, 0, *s.Steps[2].ExpectRows)
	assert.Equal(t, "anonymous", s.Steps[2].Caller)
	assert.Equal(t, []any{1}, s.Steps[3].Args)

	assert.Equal(t, map[string]any{"scheduled_id": 1}, s.Assertions[1].Where)
}

func TestParseScenario_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nsteps: [{call: a}]\n",
			want: "name is required",
		},
		{
			name: "path in name",
			yaml: "name: a/b\ndescription: d\nsteps: [{call: a}]\n",
			want: "path separators",
		},
		{
			name: "missing description",
			yaml: "name: n\nsteps: [{call: a}]\n",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d\n",
			want: "steps list is required",
		},
		{
			name: "unknown field",
			yaml: "name: n\ndescription: d\nsteps: [{call: a}]\nassertion: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "two actions",
			yaml: "name: n\ndescription: d\nsteps: [{call: a, view: b}]\n",
			want: "steps[0]: exactly one of",
		},
		{
			name: "no action in setup",
			yaml: "name: n\ndescription: d\nsetup: [{caller: x}]\nsteps: [{call: a}]\n",
			want: "setup[0]: exactly one of",
		},
		{
			name: "bad duration",
			yaml: "name: n\ndescription: d\nsteps: [{advance: soon}]\n",
			want: "advance",
		},
		{
			name: "negative advance",
			yaml: "name: n\ndescription: d\nsteps: [{advance: -1s}]\n",
			want: "advance must be positive",
		},
		{
			name: "advance with caller",
			yaml: "name: n\ndescription: d\nsteps: [{advance: 1s, caller: x}]\n",
			want: "advance takes no args or caller",
		},
		{
			name: "view with args",
			yaml: "name: n\ndescription: d\nsteps: [{view: v, args: [1]}]\n",
			want: "views take no args",
		},
		{
			name: "expect_rows on call",
			yaml: "name: n\ndescription: d\nsteps: [{call: a, expect_rows: 1}]\n",
			want: "expect_rows applies to view and proc steps",
		},
		{
			name: "bad redaction",
			yaml: "name: n\ndescription: d\nredaction: all\nsteps: [{call: a}]\n",
			want: "redaction must be none or private",
		},
		{
			name: "assertion without type",
			yaml: "name: n\ndescription: d\nsteps: [{call: a}]\nassertions: [{table: t}]\n",
			want: "assertions[0]: type is required",
		},
		{
			name: "unknown assertion type",
			yaml: "name: n\ndescription: d\nsteps: [{call: a}]\nassertions: [{type: trace_order}]\n",
			want: "unknown assertion type",
		},
		{
			name: "row_count without count",
			yaml: "name: n\ndescription: d\nsteps: [{call: a}]\nassertions: [{type: row_count, table: t}]\n",
			want: "non-negative count is required for row_count",
		},
		{
			name: "final_state without expect",
			yaml: "name: n\ndescription: d\nsteps: [{call: a}]\nassertions: [{type: final_state, table: t}]\n",
			want: "expect is required for final_state",
		},
		{
			name: "view_rows without view",
			yaml: "name: n\ndescription: d\nsteps: [{call: a}]\nassertions: [{type: view_rows, count: 1}]\n",
			want: "view is required for view_rows",
		},
		{
			name: "view_rows without count or expect",
			yaml: "name: n\ndescription: d\nsteps: [{call: a}]\nassertions: [{type: view_rows, view: v}]\n",
			want: "count or expect is required",
		},
		{
			name: "negative journal count",
			yaml: "name: n\ndescription: d\nsteps: [{call: a}]\nassertions: [{type: journal_commits, count: -1}]\n",
			want: "non-negative count is required for journal_commits",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadDir_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("b.yaml", "name: second\ndescription: d\nsteps: [{call: a}]\n")
	write("a.yml", "name: first\ndescription: d\nsteps: [{call: a}]\n")
	write("notes.txt", "not a scenario")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o755))

	scenarios, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "first", scenarios[0].Name)
	assert.Equal(t, "second", scenarios[1].Name)
}

func TestLoadDir_ReportsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: x\n"), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestLoadDir_Testdata(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)
	for _, s := range scenarios {
		assert.NotEmpty(t, s.Description, s.Name)
	}
}

func TestStepKind(t *testing.T) {
	tests := []struct {
		step Step
		kind string
		name string
	}{
		{Step{Call: "r"}, KindCall, "r"},
		{Step{View: "v"}, KindView, "v"},
		{Step{Proc: "p"}, KindProc, "p"},
		{Step{Advance: "2s"}, KindAdvance, "2s"},
		{Step{}, "", ""},
	}
	for _, tt := range tests {
		kind, name := tt.step.Kind()
		assert.Equal(t, tt.kind, kind)
		assert.Equal(t, tt.name, name)
	}
}
