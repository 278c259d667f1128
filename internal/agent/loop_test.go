package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/web-research-agent/internal/llm"
	"github.com/MimeLyc/web-research-agent/internal/tools"
)

// scriptedPlanner replays a fixed sequence of decisions and errors.
type scriptedPlanner struct {
	script []func() (Decision, error)
	calls  int
	views  [][]Entry
}

func (p *scriptedPlanner) Decide(ctx context.Context, view []Entry, defs []llm.ToolDefinition) (Decision, error) {
	p.views = append(p.views, view)
	if p.calls >= len(p.script) {
		return Decision{}, fmt.Errorf("script exhausted after %d calls", p.calls)
	}
	step := p.script[p.calls]
	p.calls++
	return step()
}

func toolDecision(name, args string) func() (Decision, error) {
	return func() (Decision, error) {
		return Decision{Kind: DecisionToolCall, ToolName: name, Arguments: json.RawMessage(args)}, nil
	}
}

func finalizeDecision(text string) func() (Decision, error) {
	return func() (Decision, error) {
		return Decision{Kind: DecisionFinalize, FinalText: text}, nil
	}
}

func plannerFailure(err error) func() (Decision, error) {
	return func() (Decision, error) { return Decision{}, err }
}

// stubSynth keeps synthesis deterministic and backend-free.
type stubSynth struct{}

func (stubSynth) Finalize(task Task, text string) string {
	return "FINAL: " + text
}

func (stubSynth) BestEffort(ctx context.Context, task Task, view []Entry, reason TerminationReason) string {
	return "BEST-EFFORT (" + string(reason) + ")"
}

func testConfig() Config {
	return Config{
		MaxSteps:        8,
		MaxWallTime:     time.Minute,
		ToolTimeout:     time.Second,
		KeepRecentSteps: 2,
		RetryBudget:     2,
		RetryBackoff:    time.Millisecond,
	}
}

func newTestLoop(t *testing.T, planner Planner, registry *tools.Registry, cfg Config) *Loop {
	t.Helper()
	loop, err := NewLoop(planner, registry, stubSynth{}, EstimateCounter{}, cfg)
	require.NoError(t, err)
	return loop
}

func searchRegistry(t *testing.T, execute func(ctx context.Context, args json.RawMessage) (tools.ToolResult, error)) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&fakeTool{name: "web_search", execute: execute}))
	return registry
}

type fakeTool struct {
	name    string
	execute func(ctx context.Context, args json.RawMessage) (tools.ToolResult, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake search" }

func (f *fakeTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)
}

func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	if f.execute != nil {
		return f.execute(ctx, args)
	}
	return tools.ToolResult{Content: "ten search results about the query"}, nil
}

func TestLoop_HappyPath(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{script: []func() (Decision, error){
		toolDecision("web_search", `{"query":"nairobi population"}`),
		toolDecision("web_search", `{"query":"nairobi census 2019"}`),
		finalizeDecision("Nairobi has about 5.5 million residents."),
	}}
	registry := searchRegistry(t, nil)

	result, err := newTestLoop(t, planner, registry, testConfig()).Run(context.Background(), Task{Instruction: "population of nairobi"})
	require.NoError(t, err)

	assert.Equal(t, ReasonFinalized, result.Reason)
	assert.Equal(t, "FINAL: Nairobi has about 5.5 million residents.", result.FinalText)
	assert.Equal(t, 2, result.ToolCalls)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, OutcomeSuccess, result.Steps[0].Outcome)
	assert.Equal(t, OutcomeSuccess, result.Steps[1].Outcome)
	assert.Equal(t, OutcomeFinalize, result.Steps[2].Outcome)
	assert.True(t, result.Steps[2].Action.Finalize)
	assert.NotEmpty(t, result.RunID)

	// Sequences are contiguous and 1-based.
	for i, s := range result.Steps {
		assert.Equal(t, i+1, s.Sequence)
	}
}

func TestLoop_StepBudgetCeiling(t *testing.T) {
	t.Parallel()

	// A planner that never finalizes.
	var script []func() (Decision, error)
	for i := 0; i < 50; i++ {
		script = append(script, toolDecision("web_search", `{"query":"more"}`))
	}
	planner := &scriptedPlanner{script: script}
	registry := searchRegistry(t, nil)

	cfg := testConfig()
	cfg.MaxSteps = 5

	result, err := newTestLoop(t, planner, registry, cfg).Run(context.Background(), Task{Instruction: "endless digging"})
	require.NoError(t, err)

	assert.Equal(t, ReasonMaxSteps, result.Reason)
	assert.Len(t, result.Steps, 5)
	assert.Equal(t, 5, result.ToolCalls)
	assert.Equal(t, "BEST-EFFORT (max-steps-exceeded)", result.FinalText)
}

func TestLoop_WallClockBudget(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{script: []func() (Decision, error){
		toolDecision("web_search", `{"query":"slow going"}`),
		toolDecision("web_search", `{"query":"still going"}`),
	}}
	registry := searchRegistry(t, func(ctx context.Context, _ json.RawMessage) (tools.ToolResult, error) {
		time.Sleep(30 * time.Millisecond)
		return tools.ToolResult{Content: "ok"}, nil
	})

	cfg := testConfig()
	cfg.MaxWallTime = 20 * time.Millisecond

	result, err := newTestLoop(t, planner, registry, cfg).Run(context.Background(), Task{Instruction: "slow task"})
	require.NoError(t, err)
	assert.Equal(t, ReasonMaxTime, result.Reason)
	assert.Equal(t, "BEST-EFFORT (max-time-exceeded)", result.FinalText)
}

func TestLoop_InvalidToolCallIsRecoverable(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{script: []func() (Decision, error){
		toolDecision("no_such_tool", `{"query":"x"}`),
		toolDecision("web_search", `{"wrong_field":true}`),
		toolDecision("web_search", `{"query":"corrected"}`),
		finalizeDecision("done"),
	}}
	executorCalls := 0
	registry := searchRegistry(t, func(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
		executorCalls++
		return tools.ToolResult{Content: "found it"}, nil
	})

	result, err := newTestLoop(t, planner, registry, testConfig()).Run(context.Background(), Task{Instruction: "resilience"})
	require.NoError(t, err)

	assert.Equal(t, ReasonFinalized, result.Reason)
	require.Len(t, result.Steps, 4)
	assert.Equal(t, OutcomeToolError, result.Steps[0].Outcome)
	assert.Contains(t, result.Steps[0].Observation, "Available tools: web_search")
	assert.Equal(t, OutcomeToolError, result.Steps[1].Outcome)
	assert.Contains(t, result.Steps[1].Observation, "parameter schema")
	assert.Equal(t, OutcomeSuccess, result.Steps[2].Outcome)

	// Schema rejection happens before the executor: only the corrected
	// call reached it.
	assert.Equal(t, 1, executorCalls)
	// Invalid calls still count against the tool-call total.
	assert.Equal(t, 3, result.ToolCalls)
}

func TestLoop_AlwaysFailingToolRunsToStepBudget(t *testing.T) {
	t.Parallel()

	// A planner that keeps trying and an executor that always blows up.
	var script []func() (Decision, error)
	for i := 0; i < 10; i++ {
		script = append(script, toolDecision("web_search", `{"query":"retry"}`))
	}
	planner := &scriptedPlanner{script: script}
	registry := searchRegistry(t, func(ctx context.Context, _ json.RawMessage) (tools.ToolResult, error) {
		return tools.ToolResult{}, fmt.Errorf("upstream is on fire")
	})

	cfg := testConfig()
	cfg.MaxSteps = 4

	result, err := newTestLoop(t, planner, registry, cfg).Run(context.Background(), Task{Instruction: "stubborn digging"})
	require.NoError(t, err)

	// Executor failures are observations, not fatal errors: the run keeps
	// going until the step budget ends it.
	assert.Equal(t, ReasonMaxSteps, result.Reason)
	require.Len(t, result.Steps, 4)
	for _, s := range result.Steps {
		assert.Equal(t, OutcomeToolError, s.Outcome)
		assert.Contains(t, s.Observation, "upstream is on fire")
	}
	assert.Equal(t, 4, result.ToolCalls)
	assert.Equal(t, "BEST-EFFORT (max-steps-exceeded)", result.FinalText)
}

func TestLoop_ToolErrorObservationFedBack(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{script: []func() (Decision, error){
		toolDecision("web_search", `{"query":"flaky"}`),
		finalizeDecision("gave up gracefully"),
	}}
	registry := searchRegistry(t, func(ctx context.Context, _ json.RawMessage) (tools.ToolResult, error) {
		return tools.ToolResult{Content: "Search failed: upstream exploded", IsError: true}, nil
	})

	result, err := newTestLoop(t, planner, registry, testConfig()).Run(context.Background(), Task{Instruction: "flaky tool"})
	require.NoError(t, err)

	require.Len(t, result.Steps, 2)
	assert.Equal(t, OutcomeToolError, result.Steps[0].Outcome)
	assert.Contains(t, result.Steps[0].Observation, "upstream exploded")

	// The second planner call saw the failure observation in its view.
	require.Len(t, planner.views, 2)
	found := false
	for _, e := range planner.views[1] {
		if e.Role == RoleObservation && e.Content == "Search failed: upstream exploded" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestLoop_ToolTimeoutOutcome(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{script: []func() (Decision, error){
		toolDecision("web_search", `{"query":"slow"}`),
		finalizeDecision("moving on"),
	}}
	registry := searchRegistry(t, func(ctx context.Context, _ json.RawMessage) (tools.ToolResult, error) {
		<-ctx.Done()
		return tools.ToolResult{}, ctx.Err()
	})

	cfg := testConfig()
	cfg.ToolTimeout = 20 * time.Millisecond

	result, err := newTestLoop(t, planner, registry, cfg).Run(context.Background(), Task{Instruction: "timeout handling"})
	require.NoError(t, err)

	assert.Equal(t, ReasonFinalized, result.Reason)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, OutcomeTimeout, result.Steps[0].Outcome)
	assert.Contains(t, result.Steps[0].Observation, "timed out")
}

func TestLoop_MalformedResponseRetriedThenRecovered(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{script: []func() (Decision, error){
		plannerFailure(fmt.Errorf("%w: gibberish", ErrMalformedResponse)),
		finalizeDecision("recovered"),
	}}
	registry := searchRegistry(t, nil)

	result, err := newTestLoop(t, planner, registry, testConfig()).Run(context.Background(), Task{Instruction: "self correction"})
	require.NoError(t, err)

	assert.Equal(t, ReasonFinalized, result.Reason)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, OutcomePlannerError, result.Steps[0].Outcome)

	// The retry saw a corrective note.
	require.Len(t, planner.views, 2)
	hasNote := false
	for _, e := range planner.views[1] {
		if e.Role == RoleNote {
			hasNote = true
		}
	}
	assert.True(t, hasNote)
}

func TestLoop_BackendFailureExhaustsRetries(t *testing.T) {
	t.Parallel()

	fail := plannerFailure(fmt.Errorf("%w: connection refused", ErrBackendUnavailable))
	planner := &scriptedPlanner{script: []func() (Decision, error){fail, fail, fail}}
	registry := searchRegistry(t, nil)

	result, err := newTestLoop(t, planner, registry, testConfig()).Run(context.Background(), Task{Instruction: "backend down"})
	require.NoError(t, err)

	assert.Equal(t, ReasonFatalError, result.Reason)
	assert.Empty(t, result.FinalText)
	assert.Equal(t, 3, planner.calls)
	require.Len(t, result.Steps, 3)
	for _, s := range result.Steps {
		assert.Equal(t, OutcomePlannerError, s.Outcome)
	}
	assert.Equal(t, 0, result.ToolCalls)
}

func TestLoop_Cancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	planner := &scriptedPlanner{script: []func() (Decision, error){
		toolDecision("web_search", `{"query":"first"}`),
		toolDecision("web_search", `{"query":"second"}`),
	}}
	calls := 0
	registry := searchRegistry(t, func(c context.Context, _ json.RawMessage) (tools.ToolResult, error) {
		calls++
		if calls == 1 {
			return tools.ToolResult{Content: "one useful finding"}, nil
		}
		cancel()
		<-c.Done()
		return tools.ToolResult{}, c.Err()
	})

	result, err := newTestLoop(t, planner, registry, testConfig()).Run(ctx, Task{Instruction: "interrupted"})
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, result.Reason)
	// One step succeeded before the cancel, so the partial evidence is
	// still worth a best-effort report.
	assert.Equal(t, 1, result.SuccessfulSteps())
	assert.Equal(t, "BEST-EFFORT (cancelled)", result.FinalText)
}

func TestLoop_CancelledBeforeFirstSuccessSkipsSynthesis(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	planner := &scriptedPlanner{script: []func() (Decision, error){
		toolDecision("web_search", `{"query":"never issued"}`),
	}}
	registry := searchRegistry(t, nil)

	result, err := newTestLoop(t, planner, registry, testConfig()).Run(ctx, Task{Instruction: "aborted early"})
	require.NoError(t, err)

	assert.Equal(t, ReasonCancelled, result.Reason)
	assert.Equal(t, 0, result.SuccessfulSteps())
	assert.Zero(t, planner.calls)
	// With no evidence collected there is nothing to report on.
	assert.Empty(t, result.FinalText)
	assert.False(t, result.EndedAt.IsZero())
}

func TestLoop_RejectsEmptyTask(t *testing.T) {
	t.Parallel()

	registry := searchRegistry(t, nil)
	loop := newTestLoop(t, &scriptedPlanner{}, registry, testConfig())

	_, err := loop.Run(context.Background(), Task{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instruction is empty")
}

func TestLoopConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := testConfig()
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.MaxSteps = 0
	assert.Error(t, bad.Validate())

	bad = valid
	bad.MaxWallTime = 0
	assert.Error(t, bad.Validate())

	bad = valid
	bad.ToolTimeout = -time.Second
	assert.Error(t, bad.Validate())

	bad = valid
	bad.RetryBudget = -1
	assert.Error(t, bad.Validate())
}

func TestRunResult_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	original := &RunResult{
		RunID: "run-123",
		Task:  Task{Title: "Nairobi", Instruction: "population of nairobi"},
		FinalText: "about 5.5 million",
		Reason:    ReasonFinalized,
		Steps: []Step{
			{
				Sequence:    1,
				Action:      Action{Tool: "web_search", Arguments: json.RawMessage(`{"query":"nairobi"}`)},
				Observation: "ten results",
				Timestamp:   time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
				Outcome:     OutcomeSuccess,
			},
			{
				Sequence:  2,
				Action:    Action{Finalize: true},
				Timestamp: time.Date(2026, 8, 25, 12, 1, 0, 0, time.UTC),
				Outcome:   OutcomeFinalize,
			},
		},
		ToolCalls: 1,
		StartedAt: time.Date(2026, 8, 25, 11, 59, 0, 0, time.UTC),
		EndedAt:   time.Date(2026, 8, 25, 12, 1, 0, 0, time.UTC),
	}

	first, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded RunResult
	require.NoError(t, json.Unmarshal(first, &decoded))

	second, err := json.Marshal(&decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, original.Reason, decoded.Reason)
	assert.Equal(t, original.Steps[0].Action.Tool, decoded.Steps[0].Action.Tool)
	assert.Equal(t, 1, decoded.SuccessfulSteps())
}
