package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultModule is the module scenarios run against when they name none.
const DefaultModule = "integration"

// Scenario defines a conformance test scenario.
// Scenarios drive a hosted module through reducer calls, view and
// procedure calls and scheduler time, then assert on the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Module names a registered module. Default: "integration".
	Module string `yaml:"module,omitempty"`

	// Redaction is the engine's private table policy: "none" or "private".
	Redaction string `yaml:"redaction,omitempty"`

	// Setup steps establish initial state. A failing setup step aborts the
	// scenario.
	Setup []Step `yaml:"setup,omitempty"`

	// Steps is the main flow. Each step may state an expected outcome.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	// Supported types: row_count, final_state, view_rows, journal_commits
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one action. Exactly one of Call, View, Proc or Advance is set.
type Step struct {
	// Call is a reducer name.
	Call string `yaml:"call,omitempty"`

	// View is a view name.
	View string `yaml:"view,omitempty"`

	// Proc is a procedure name.
	Proc string `yaml:"proc,omitempty"`

	// Advance moves the clock forward by a Go duration ("1s", "500ms") and
	// fires every scheduled reducer that came due.
	Advance string `yaml:"advance,omitempty"`

	// Args are positional arguments in their JSON form.
	Args []any `yaml:"args,omitempty"`

	// Caller is "anonymous" or a name mapped to a stable identity.
	// Default: "tester".
	Caller string `yaml:"caller,omitempty"`

	// ExpectError is the error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`

	// ExpectRows is the number of rows a view must return, or for a
	// procedure 1 when it returns a value and 0 when it does not.
	ExpectRows *int `yaml:"expect_rows,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "row_count": Table has exactly Count rows (matching Where, if set)
	// - "final_state": Some row matching Where has the Expect values
	// - "view_rows": View returns Count rows, the first with the Expect values
	// - "journal_commits": The journal recorded exactly Count commits
	Type string `yaml:"type"`

	// Table is the table name (used by row_count, final_state).
	Table string `yaml:"table,omitempty"`

	// View is the view name (used by view_rows).
	View string `yaml:"view,omitempty"`

	// Caller for view_rows. Default: "tester".
	Caller string `yaml:"caller,omitempty"`

	// Where filters rows. All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values.
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of rows or commits.
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRowCount       = "row_count"
	AssertFinalState     = "final_state"
	AssertViewRows       = "view_rows"
	AssertJournalCommits = "journal_commits"
)

// Kind returns the step's kind and the routine it names.
func (s Step) Kind() (kind, name string) {
	switch {
	case s.Call != "":
		return KindCall, s.Call
	case s.View != "":
		return KindView, s.View
	case s.Proc != "":
		return KindProc, s.Proc
	case s.Advance != "":
		return KindAdvance, s.Advance
	}
	return "", ""
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Module == "" {
		scenario.Module = DefaultModule
	}
	return &scenario, nil
}

// LoadDir loads every .yaml and .yml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	scenarios := make([]*Scenario, 0, len(names))
	for _, name := range names {
		s, err := LoadScenario(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(s.Name, `/\`) {
		return fmt.Errorf("name %q must not contain path separators", s.Name)
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	switch s.Redaction {
	case "", "none", "private":
	default:
		return fmt.Errorf("redaction must be none or private, got %q", s.Redaction)
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(s Step) error {
	set := 0
	for _, v := range []string{s.Call, s.View, s.Proc, s.Advance} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of call, view, proc or advance is required")
	}

	if s.Advance != "" {
		d, err := time.ParseDuration(s.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("advance must be positive, got %s", s.Advance)
		}
		if len(s.Args) > 0 || s.Caller != "" {
			return fmt.Errorf("advance takes no args or caller")
		}
	}
	if s.View != "" && len(s.Args) > 0 {
		return fmt.Errorf("views take no args")
	}
	if s.ExpectRows != nil && s.View == "" && s.Proc == "" {
		return fmt.Errorf("expect_rows applies to view and proc steps")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for row_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertViewRows:
		if a.View == "" {
			return fmt.Errorf("assertions[%d]: view is required for view_rows", index)
		}
		if a.Count == nil && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: count or expect is required for view_rows", index)
		}
	case AssertJournalCommits:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for journal_commits", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
