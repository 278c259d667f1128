package agent

import (
	"encoding/json"
	"fmt"
	"time"
)

// Task is the user's research request. It is immutable for the duration of
// one run.
type Task struct {
	// Title is a short label used for reports and file names
	Title string `json:"title"`

	// Instruction is the full research question or directive
	Instruction string `json:"instruction"`
}

// Validate checks the task is runnable.
func (t Task) Validate() error {
	if t.Instruction == "" {
		return fmt.Errorf("task instruction is empty")
	}
	return nil
}

// Outcome tags how a single step ended.
type Outcome string

const (
	// OutcomeSuccess marks a tool call that returned a usable observation
	OutcomeSuccess Outcome = "success"

	// OutcomeToolError marks an invalid, rejected, or failed tool call
	OutcomeToolError Outcome = "tool-error"

	// OutcomeTimeout marks a tool call that exceeded its deadline
	OutcomeTimeout Outcome = "timeout"

	// OutcomePlannerError marks a failed reasoning attempt (malformed
	// response or unavailable backend)
	OutcomePlannerError Outcome = "planner-error"

	// OutcomeFinalize marks the terminal step carrying the final answer
	OutcomeFinalize Outcome = "finalize"
)

// TerminationReason explains why a run ended.
type TerminationReason string

const (
	ReasonFinalized   TerminationReason = "finalized"
	ReasonMaxSteps    TerminationReason = "max-steps-exceeded"
	ReasonMaxTime     TerminationReason = "max-time-exceeded"
	ReasonFatalError  TerminationReason = "fatal-error"
	ReasonCancelled   TerminationReason = "cancelled"
)

// Action is the decided action of one step: either a tool invocation or the
// finalize signal.
type Action struct {
	Tool      string          `json:"tool,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Finalize  bool            `json:"finalize,omitempty"`
}

// String renders the action for context entries and logs.
func (a Action) String() string {
	if a.Finalize {
		return "finalize"
	}
	if len(a.Arguments) == 0 {
		return a.Tool
	}
	return fmt.Sprintf("%s(%s)", a.Tool, string(a.Arguments))
}

// Step is one iteration's record. Steps are append-only; the ordered
// sequence of steps is the run's audit trail and is never truncated, even
// when the context view evicts old entries.
type Step struct {
	Sequence    int       `json:"sequence"`
	Action      Action    `json:"action"`
	Observation string    `json:"observation"`
	Timestamp   time.Time `json:"timestamp"`
	Outcome     Outcome   `json:"outcome"`
}

// DecisionKind discriminates planner decisions.
type DecisionKind string

const (
	DecisionToolCall DecisionKind = "tool_call"
	DecisionFinalize DecisionKind = "finalize"
)

// Decision is the planner's output for one iteration: a tool invocation
// request or a finalize signal with the answer text.
type Decision struct {
	Kind      DecisionKind
	ToolName  string
	Arguments json.RawMessage
	FinalText string
}

// RunResult is the terminal artifact of a run: the synthesized report, the
// full step history, the termination reason, and the tool-call count. It is
// the sole output consumed by any presentation layer.
type RunResult struct {
	RunID     string            `json:"run_id"`
	Task      Task              `json:"task"`
	FinalText string            `json:"final_text"`
	Reason    TerminationReason `json:"reason"`
	Steps     []Step            `json:"steps"`
	ToolCalls int               `json:"tool_calls"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at"`
}

// SuccessfulSteps reports how many steps produced a usable observation.
func (r *RunResult) SuccessfulSteps() int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == OutcomeSuccess {
			n++
		}
	}
	return n
}
