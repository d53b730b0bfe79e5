package reasoning

import (
	"errors"
	"time"
)

// Step is one think/act/observe iteration of a run.
type Step struct {
	Number      int            `json:"step"`
	Thought     string         `json:"thought"`
	Action      ActionKind     `json:"action"`
	Input       map[string]any `json:"action_input"`
	Observation string         `json:"observation"`
	Final       bool           `json:"is_final"`
	Parse       ParseStatus    `json:"parse_status"`
	ParseNotes  []string       `json:"parse_notes,omitempty"`
	Duration    time.Duration  `json:"duration_ns"`
}

// FailureKind separates the ways a run can end without a conclusion.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureBudgetExhausted  FailureKind = "budget_exhausted"
	FailureDeadlineExceeded FailureKind = "deadline_exceeded"
	FailureCompletion       FailureKind = "completion_failed"
)

// ErrBudgetExhausted is reported when max_steps pass without a CONCLUDE.
var ErrBudgetExhausted = errors.New("maximum reasoning steps reached without conclusion")

// Result is returned once per run.
type Result struct {
	Success     bool          `json:"success"`
	FinalAnswer string        `json:"final_answer,omitempty"`
	Confidence  float64       `json:"confidence,omitempty"`
	Chain       []Step        `json:"reasoning_chain"`
	StepsTaken  int           `json:"steps_taken"`
	Error       string        `json:"error,omitempty"`
	Failure     FailureKind   `json:"failure,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// Count returns how many steps in the chain used action k.
func (r *Result) Count(k ActionKind) int {
	n := 0
	for _, s := range r.Chain {
		if s.Action == k {
			n++
		}
	}
	return n
}

// Last returns the final step of the chain, if any.
func (r *Result) Last() (Step, bool) {
	if len(r.Chain) == 0 {
		return Step{}, false
	}
	return r.Chain[len(r.Chain)-1], true
}
