package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/web-research-agent/internal/agent"
	"github.com/MimeLyc/web-research-agent/internal/config"
	"github.com/MimeLyc/web-research-agent/internal/jobs"
	"github.com/MimeLyc/web-research-agent/internal/llm"
	"github.com/MimeLyc/web-research-agent/internal/tools"
	"github.com/MimeLyc/web-research-agent/pkg/file"
	"github.com/MimeLyc/web-research-agent/pkg/icron"
	"github.com/MimeLyc/web-research-agent/pkg/log"
)

// runRetention is how long finished runs stay in storage before the
// maintenance sweep removes them.
const runRetention = 30 * 24 * time.Hour

// RunStore is the persistence surface the service needs on top of the job
// store.
type RunStore interface {
	jobs.Store
	SaveRun(ctx context.Context, jobID string, result *agent.RunResult) error
	GetRun(ctx context.Context, runID string) (*agent.RunResult, bool, error)
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ResearchService wires the agent loop, tool registry, queue storage, and
// report output together.
type ResearchService struct {
	cfg      *config.Config
	store    RunStore
	loop     *agent.Loop
	registry *tools.Registry
}

var maintenanceGroup singleflight.Group

func NewResearchService(cfg *config.Config, store RunStore) (*ResearchService, error) {
	llmClient, err := llm.NewClient(&llm.Config{
		APIKey:      cfg.LLM.APIKey,
		APIURL:      cfg.LLM.APIURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		SiteURL:     cfg.LLM.SiteURL,
		AppName:     cfg.LLM.AppName,
	})
	if err != nil {
		return nil, WrapError(err, ErrConfig, "create LLM client")
	}

	registry := tools.NewRegistry()
	if cfg.Search.APIKey != "" {
		if err := registry.Register(tools.NewWebSearchTool(cfg.Search.APIKey, cfg.Search.APIURL)); err != nil {
			return nil, WrapError(err, ErrConfig, "register web_search")
		}
	} else {
		log.Warn("SEARCH_API_KEY not set, web_search tool is disabled")
	}
	if err := registry.Register(tools.NewFetchPageTool(0)); err != nil {
		return nil, WrapError(err, ErrConfig, "register fetch_page")
	}

	var counter agent.TokenCounter = agent.EstimateCounter{}
	if cfg.Agent.TokenEncoding != "" {
		tc, err := agent.NewTiktokenCounter(cfg.Agent.TokenEncoding)
		if err != nil {
			log.Warn("token encoding %q unavailable, falling back to estimator: %v", cfg.Agent.TokenEncoding, err)
		} else {
			counter = tc
		}
	}

	planner := agent.NewLLMPlanner(llmClient)
	synth := agent.NewLLMSynthesizer(llmClient, cfg.Report.Language)

	loop, err := agent.NewLoop(planner, registry, synth, counter, agent.Config{
		MaxSteps:        cfg.Agent.MaxSteps,
		MaxWallTime:     cfg.Agent.MaxWallTime,
		ToolTimeout:     cfg.Agent.ToolTimeout,
		ContextBudget:   cfg.Agent.ContextBudget,
		KeepRecentSteps: cfg.Agent.KeepRecentSteps,
		RetryBudget:     cfg.Agent.RetryBudget,
		RetryBackoff:    cfg.Agent.RetryBackoff,
		PromptSuffix:    agent.LanguageDirective(cfg.Report.Language),
	})
	if err != nil {
		return nil, WrapError(err, ErrConfig, "create agent loop")
	}

	return &ResearchService{
		cfg:      cfg,
		store:    store,
		loop:     loop,
		registry: registry,
	}, nil
}

// Registry exposes the tool registry, e.g. for startup logging.
func (s *ResearchService) Registry() *tools.Registry {
	return s.registry
}

// ExecuteJob is the queue executor: it runs the job's task through the
// agent loop, persists the run, and writes the report file. The returned
// run ID is recorded on the job even when the run failed.
func (s *ResearchService) ExecuteJob(ctx context.Context, job *jobs.ResearchJob) (string, error) {
	result, err := s.run(ctx, job.ID, agent.Task{
		Title:       job.Payload.Title,
		Instruction: job.Payload.Instruction,
	})
	if result == nil {
		return "", err
	}
	return result.RunID, err
}

// RunTask executes one research task outside the queue, e.g. for the
// one-shot CLI mode.
func (s *ResearchService) RunTask(ctx context.Context, task agent.Task) (*agent.RunResult, error) {
	return s.run(ctx, "", task)
}

// run executes a task and persists its outcome under the owning job. A run
// that terminates with a fatal error is still stored but reported as an
// error to the caller.
func (s *ResearchService) run(ctx context.Context, jobID string, task agent.Task) (*agent.RunResult, error) {
	result, err := s.loop.Run(ctx, task)
	if err != nil {
		return nil, WrapError(err, ErrValidation, "run task")
	}

	if s.store != nil {
		if err := s.store.SaveRun(context.WithoutCancel(ctx), jobID, result); err != nil {
			log.Error("Failed to persist run %s: %v", result.RunID, err)
		}
	}

	if result.Reason == agent.ReasonFatalError {
		return result, NewError(ErrResearch, "run ended with a fatal planner error").
			WithContext("run_id", result.RunID)
	}

	if path, err := s.WriteReport(result); err != nil {
		log.Error("Failed to write report for run %s: %v", result.RunID, err)
	} else {
		log.Info("Report for run %s written to %s", result.RunID, path)
	}
	return result, nil
}

// WriteReport writes the run's final text to the report directory and
// returns the file path.
func (s *ResearchService) WriteReport(result *agent.RunResult) (string, error) {
	if result.FinalText == "" {
		return "", NewError(ErrReport, "run has no final text").WithContext("run_id", result.RunID)
	}
	name := result.Task.Title
	if name == "" {
		name = result.RunID
	}
	path := filepath.Join(s.cfg.Report.Dir, file.SafeName(name)+".md")
	if err := file.WriteAtomic(path, []byte(result.FinalText)); err != nil {
		return "", WrapError(err, ErrReport, "write report file")
	}
	return path, nil
}

// Schedule registers the maintenance sweep on the given cron. The sweep
// removes runs older than the retention window.
func (s *ResearchService) Schedule(ctx context.Context, c *cron.Cron) error {
	runFunc := func() {
		_, _, _ = maintenanceGroup.Do("maintenance", func() (any, error) {
			removed, err := s.store.DeleteRunsBefore(ctx, time.Now().Add(-runRetention))
			if err != nil {
				log.Error("Maintenance sweep failed: %v", err)
				return nil, err
			}
			log.Info("Maintenance sweep removed %d old runs", removed)
			return nil, nil
		})
	}
	_, err := c.AddFunc(s.cfg.Server.MaintenanceCron, runFunc)
	return err
}

// Status reports queue-independent service status for the HTTP API.
func (s *ResearchService) Status() map[string]any {
	ret := map[string]any{
		"tools": s.registry.List(),
	}
	info, err := icron.GetTriggerInfo(s.cfg.Server.MaintenanceCron, time.Now())
	if err != nil {
		ret["maintenance"] = fmt.Sprintf("invalid schedule: %v", err)
		return ret
	}
	ret["next_maintenance"] = info.Next.UTC().Format(time.RFC3339)
	return ret
}
