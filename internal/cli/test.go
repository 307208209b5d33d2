package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/tablet/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run YAML scenarios against fresh hosts",
		Long: `Run every scenario in a directory. Each scenario gets a fresh engine
with a manual clock and an in-memory journal, so the journal configured
for other commands is never touched.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, malformed scenarios)

Examples:
  tablet test ./internal/harness/testdata/scenarios
  tablet test ./scenarios --filter "scheduled*"
  tablet test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by name (glob pattern)")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	scenarios, err := harness.LoadDir(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenarios", err)
	}
	scenarios, err = filterScenarios(scenarios, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter pattern", err)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(scenarios))}
	for _, s := range scenarios {
		sr := runScenario(ctx, s)
		if opts.Format != "json" {
			printScenario(cmd.OutOrStdout(), sr)
		}
		result.record(sr)
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

// filterScenarios keeps the scenarios whose name matches the glob.
func filterScenarios(scenarios []*harness.Scenario, pattern string) ([]*harness.Scenario, error) {
	if pattern == "" {
		return scenarios, nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, err
	}
	var kept []*harness.Scenario
	for _, s := range scenarios {
		if ok, _ := filepath.Match(pattern, s.Name); ok {
			kept = append(kept, s)
		}
	}
	return kept, nil
}

// runScenario runs one scenario on a fresh host. Setup failures and
// assertion failures both count as a failed scenario.
func runScenario(ctx context.Context, s *harness.Scenario) ScenarioResult {
	res, err := harness.Run(ctx, s)
	if err != nil {
		return ScenarioResult{Name: s.Name, Errors: []string{fmt.Sprintf("execution failed: %v", err)}}
	}
	return ScenarioResult{Name: s.Name, Pass: res.Pass, Errors: res.Errors}
}

func (r *TestResult) record(sr ScenarioResult) {
	r.Scenarios = append(r.Scenarios, sr)
	r.Total++
	if sr.Pass {
		r.Passed++
	} else {
		r.Failed++
	}
}

func printScenario(w io.Writer, sr ScenarioResult) {
	if sr.Pass {
		fmt.Fprintf(w, "✓ %s\n", sr.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", sr.Name)
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// outputTestJSON writes the whole run as one response. Any failure makes
// the status "error" and the exit code 1.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	out := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
	if result.Failed == 0 {
		return out.Success(result)
	}

	msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
	if err := out.encode(CLIResponse{
		Status: "error",
		Data:   result,
		Error:  &CLIError{Code: "E_TEST_FAILED", Message: msg},
	}); err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}

func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}

	fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
