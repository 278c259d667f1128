package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/web-research-agent/internal/llm"
	"github.com/MimeLyc/web-research-agent/internal/tools"
	"github.com/MimeLyc/web-research-agent/pkg/log"
)

// Config bounds a single run. Budgets are checked at the top of every
// iteration; an exceeded budget ends the run with a best-effort report.
type Config struct {
	// MaxSteps caps the number of recorded steps per run
	MaxSteps int

	// MaxWallTime caps the total elapsed time of a run
	MaxWallTime time.Duration

	// ToolTimeout is the per-invocation deadline for tool executors
	ToolTimeout time.Duration

	// ContextBudget is the token budget of the planner's working context.
	// Zero disables eviction.
	ContextBudget int

	// KeepRecentSteps is how many of the newest step units eviction must
	// always preserve
	KeepRecentSteps int

	// RetryBudget is how many extra planner attempts follow a failed one
	RetryBudget int

	// RetryBackoff is the pause between planner attempts
	RetryBackoff time.Duration

	// PromptSuffix is appended to the planner system instructions, e.g. a
	// report-language directive
	PromptSuffix string
}

func (c Config) Validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max steps must be positive, got %d", c.MaxSteps)
	}
	if c.MaxWallTime <= 0 {
		return fmt.Errorf("max wall time must be positive, got %s", c.MaxWallTime)
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("tool timeout must be positive, got %s", c.ToolTimeout)
	}
	if c.RetryBudget < 0 {
		return fmt.Errorf("retry budget must not be negative, got %d", c.RetryBudget)
	}
	return nil
}

// Loop drives the think-act-observe cycle for one task at a time. A Loop is
// stateless between runs and safe for concurrent Run calls.
type Loop struct {
	planner  Planner
	registry *tools.Registry
	synth    Synthesizer
	counter  TokenCounter
	cfg      Config
}

func NewLoop(planner Planner, registry *tools.Registry, synth Synthesizer, counter TokenCounter, cfg Config) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loop config: %w", err)
	}
	if planner == nil || registry == nil || synth == nil {
		return nil, fmt.Errorf("planner, registry and synthesizer are required")
	}
	if counter == nil {
		counter = EstimateCounter{}
	}
	return &Loop{
		planner:  planner,
		registry: registry,
		synth:    synth,
		counter:  counter,
		cfg:      cfg,
	}, nil
}

// Run executes the task to completion. Tool and backend failures never
// escape as errors; they end up in the result's step history and termination
// reason. The returned error covers invalid input only.
func (l *Loop) Run(ctx context.Context, task Task) (*RunResult, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:     uuid.NewString(),
		Task:      task,
		Steps:     []Step{},
		StartedAt: time.Now(),
	}

	cm := NewContextManager(l.cfg.ContextBudget, l.cfg.KeepRecentSteps, l.counter)
	cm.Pin(RoleSystem, plannerSystemPrompt+l.cfg.PromptSuffix)
	cm.Pin(RoleTask, task.Instruction)

	toolDefs := l.registry.ToOpenAIFormat()
	log.Info("run %s started: %q (%d tools, max %d steps)",
		result.RunID, firstLine(task.Instruction), len(toolDefs), l.cfg.MaxSteps)

	for {
		if ctx.Err() != nil {
			l.finishIncomplete(ctx, result, cm, ReasonCancelled)
			return result, nil
		}
		if len(result.Steps) >= l.cfg.MaxSteps {
			l.finishIncomplete(ctx, result, cm, ReasonMaxSteps)
			return result, nil
		}
		if time.Since(result.StartedAt) >= l.cfg.MaxWallTime {
			l.finishIncomplete(ctx, result, cm, ReasonMaxTime)
			return result, nil
		}

		decision, err := l.decide(ctx, cm, toolDefs, result)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				l.finishIncomplete(ctx, result, cm, ReasonCancelled)
				return result, nil
			}
			log.Error("run %s: planner retries exhausted: %v", result.RunID, err)
			result.Reason = ReasonFatalError
			result.EndedAt = time.Now()
			return result, nil
		}

		if decision.Kind == DecisionFinalize {
			l.appendStep(result, cm, Action{Finalize: true}, decision.FinalText, OutcomeFinalize)
			result.FinalText = l.synth.Finalize(task, decision.FinalText)
			result.Reason = ReasonFinalized
			result.EndedAt = time.Now()
			log.Info("run %s finalized after %d steps (%d tool calls)",
				result.RunID, len(result.Steps), result.ToolCalls)
			return result, nil
		}

		result.ToolCalls++
		action := Action{Tool: decision.ToolName, Arguments: decision.Arguments}
		observation, outcome, execErr := l.execute(ctx, decision)
		if execErr != nil {
			l.finishIncomplete(ctx, result, cm, ReasonCancelled)
			return result, nil
		}
		l.appendStep(result, cm, action, observation, outcome)
	}
}

// decide asks the planner for the next action, retrying failed attempts up
// to the retry budget. Every failed attempt is recorded in the step history;
// malformed responses additionally feed a corrective note back into the
// context so the planner can adapt.
func (l *Loop) decide(ctx context.Context, cm *ContextManager, toolDefs []llm.ToolDefinition, result *RunResult) (Decision, error) {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.RetryBudget; attempt++ {
		if attempt > 0 && l.cfg.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				return Decision{}, ctx.Err()
			case <-time.After(l.cfg.RetryBackoff):
			}
		}

		decision, err := l.planner.Decide(ctx, cm.View(), toolDefs)
		if err == nil {
			return decision, nil
		}
		lastErr = err
		log.Warn("run %s: planner attempt %d/%d failed: %v",
			result.RunID, attempt+1, l.cfg.RetryBudget+1, err)

		seq := l.appendStep(result, cm, Action{}, fmt.Sprintf("planner attempt failed: %v", err), OutcomePlannerError)
		if errors.Is(err, ErrMalformedResponse) {
			cm.Append(Entry{
				Role:    RoleNote,
				Content: "Your previous response could not be interpreted. Reply with exactly one tool call, or with the final answer as plain text.",
				StepSeq: seq,
			})
		}
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
	}
	return Decision{}, lastErr
}

// execute runs the decided tool call and maps every failure mode onto an
// observation the planner can read. The returned error is non-nil only when
// the run context itself was cancelled.
func (l *Loop) execute(ctx context.Context, decision Decision) (string, Outcome, error) {
	result, err := l.registry.Execute(ctx, decision.ToolName, decision.Arguments, l.cfg.ToolTimeout)
	switch {
	case err == nil:
		if result.IsError {
			return result.Content, OutcomeToolError, nil
		}
		return result.Content, OutcomeSuccess, nil
	case errors.Is(err, tools.ErrUnknownTool):
		return fmt.Sprintf("Tool call rejected: %v. Available tools: %s.",
			err, strings.Join(l.registry.List(), ", ")), OutcomeToolError, nil
	case errors.Is(err, tools.ErrSchemaMismatch):
		return fmt.Sprintf("Tool call rejected: %v. Check the tool's parameter schema and try again.", err), OutcomeToolError, nil
	case errors.Is(err, tools.ErrToolTimeout):
		return fmt.Sprintf("Tool call timed out: %v. Try a narrower request or a different source.", err), OutcomeTimeout, nil
	case errors.Is(err, context.Canceled):
		return "", "", err
	default:
		return fmt.Sprintf("Tool call failed: %v.", err), OutcomeToolError, nil
	}
}

// appendStep records one step in the audit trail and mirrors it into the
// working context as an action/observation pair sharing one step unit.
func (l *Loop) appendStep(result *RunResult, cm *ContextManager, action Action, observation string, outcome Outcome) int {
	seq := len(result.Steps) + 1
	result.Steps = append(result.Steps, Step{
		Sequence:    seq,
		Action:      action,
		Observation: observation,
		Timestamp:   time.Now(),
		Outcome:     outcome,
	})

	switch outcome {
	case OutcomeFinalize:
		// The final answer lives in the result, not the context.
	case OutcomePlannerError:
		// Corrective notes are appended by the caller when useful.
	default:
		cm.Append(Entry{Role: RoleAction, Content: "Calling " + action.String(), StepSeq: seq})
		cm.Append(Entry{Role: RoleObservation, Content: observation, StepSeq: seq})
	}
	return seq
}

// finishIncomplete closes a run that ended before the planner finalized.
// Synthesis runs on a fresh context so a cancelled run still gets its
// best-effort report. A run cancelled before any step succeeded has no
// evidence to report on and skips synthesis entirely.
func (l *Loop) finishIncomplete(ctx context.Context, result *RunResult, cm *ContextManager, reason TerminationReason) {
	result.Reason = reason
	if reason != ReasonCancelled || result.SuccessfulSteps() > 0 {
		synthCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 60*time.Second)
		defer cancel()
		result.FinalText = l.synth.BestEffort(synthCtx, result.Task, cm.View(), reason)
	}
	result.EndedAt = time.Now()
	log.Info("run %s ended: %s after %d steps (%d tool calls)",
		result.RunID, reason, len(result.Steps), result.ToolCalls)
}
