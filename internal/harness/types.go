package harness

import "encoding/json"

// Step kinds recorded in a Result.
const (
	KindCall    = "call"
	KindView    = "view"
	KindProc    = "proc"
	KindAdvance = "advance"
)

// StepRecord is the observable outcome of one scenario step. Records are
// what golden files snapshot, so they hold nothing nondeterministic.
type StepRecord struct {
	Step    int             `json:"step"`
	Kind    string          `json:"kind"`
	Name    string          `json:"name,omitempty"`
	Caller  string          `json:"caller,omitempty"`
	Error   string          `json:"error,omitempty"`   // Error code only
	Changes int             `json:"changes,omitempty"` // Row changes committed by a call
	Fired   int             `json:"fired,omitempty"`   // Reducers fired by an advance
	Output  json.RawMessage `json:"output,omitempty"`  // Canonical JSON of a view or procedure result
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step expectation and assertion holds.
	Pass bool `json:"pass"`

	// Steps records every main step in order. Setup steps are not recorded.
	Steps []StepRecord `json:"steps"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepRecord{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step record, numbering it.
func (r *Result) AddStep(rec StepRecord) {
	rec.Step = len(r.Steps) + 1
	r.Steps = append(r.Steps, rec)
}
