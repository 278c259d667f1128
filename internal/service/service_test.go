package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/MimeLyc/web-research-agent/internal/agent"
	"github.com/MimeLyc/web-research-agent/internal/config"
	"github.com/MimeLyc/web-research-agent/internal/jobs"
)

type memoryRunStore struct {
	jobs map[string]*jobs.ResearchJob
	runs map[string]*agent.RunResult
}

func newMemoryRunStore() *memoryRunStore {
	return &memoryRunStore{
		jobs: make(map[string]*jobs.ResearchJob),
		runs: make(map[string]*agent.RunResult),
	}
}

func (m *memoryRunStore) LoadJobs(_ context.Context) ([]*jobs.ResearchJob, error) {
	ret := make([]*jobs.ResearchJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		ret = append(ret, j)
	}
	return ret, nil
}

func (m *memoryRunStore) UpsertJob(_ context.Context, job *jobs.ResearchJob) error {
	m.jobs[job.ID] = job
	return nil
}

func (m *memoryRunStore) DeleteJob(_ context.Context, jobID string) error {
	delete(m.jobs, jobID)
	return nil
}

func (m *memoryRunStore) DeleteJobData(_ context.Context, _ string) error {
	return nil
}

func (m *memoryRunStore) SaveRun(_ context.Context, _ string, result *agent.RunResult) error {
	m.runs[result.RunID] = result
	return nil
}

func (m *memoryRunStore) GetRun(_ context.Context, runID string) (*agent.RunResult, bool, error) {
	run, ok := m.runs[runID]
	return run, ok, nil
}

func (m *memoryRunStore) DeleteRunsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	for id, run := range m.runs {
		if run.EndedAt.Before(cutoff) {
			delete(m.runs, id)
			removed++
		}
	}
	return removed, nil
}

// fakeBackend answers every chat completion with a plain final answer, so
// runs finalize on the first step.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {"role": "assistant", "content": "Nairobi has about 5.5 million residents."},
				"finish_reason": "stop"
			}]
		}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func testServiceConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	return &config.Config{
		LLM: config.LLMConfig{
			APIKey:  "test-key",
			APIURL:  backendURL,
			Model:   "test-model",
			Timeout: 5,
		},
		Agent: config.AgentConfig{
			MaxSteps:        5,
			MaxWallTime:     time.Minute,
			ToolTimeout:     time.Second,
			KeepRecentSteps: 2,
			RetryBudget:     1,
			RetryBackoff:    time.Millisecond,
			Workers:         1,
		},
		Report: config.ReportConfig{
			Language: language.English,
			Dir:      t.TempDir(),
		},
		Server: config.ServerConfig{
			MaintenanceCron: "0 3 * * *",
		},
	}
}

func TestResearchService_RunTask(t *testing.T) {
	backend := fakeBackend(t)
	store := newMemoryRunStore()

	svc, err := NewResearchService(testServiceConfig(t, backend.URL), store)
	require.NoError(t, err)

	result, err := svc.RunTask(context.Background(), agent.Task{
		Title:       "Nairobi",
		Instruction: "population of nairobi",
	})
	require.NoError(t, err)
	assert.Equal(t, agent.ReasonFinalized, result.Reason)
	assert.Contains(t, result.FinalText, "5.5 million")

	// Run was persisted.
	stored, ok, err := store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, result.RunID, stored.RunID)
}

func TestResearchService_ExecuteJobReturnsRunID(t *testing.T) {
	backend := fakeBackend(t)
	store := newMemoryRunStore()

	svc, err := NewResearchService(testServiceConfig(t, backend.URL), store)
	require.NoError(t, err)

	runID, err := svc.ExecuteJob(context.Background(), &jobs.ResearchJob{
		ID:      "job-1",
		Payload: jobs.JobPayload{Title: "Nairobi", Instruction: "population of nairobi"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
}

func TestResearchService_WriteReport(t *testing.T) {
	backend := fakeBackend(t)
	cfg := testServiceConfig(t, backend.URL)

	svc, err := NewResearchService(cfg, newMemoryRunStore())
	require.NoError(t, err)

	path, err := svc.WriteReport(&agent.RunResult{
		RunID:     "run-1",
		Task:      agent.Task{Title: "Nairobi / Kenya 2026"},
		FinalText: "# Nairobi\n\nreport body\n",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Report.Dir, "Nairobi-Kenya-2026.md"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "report body")
}

func TestResearchService_WriteReportRejectsEmpty(t *testing.T) {
	backend := fakeBackend(t)

	svc, err := NewResearchService(testServiceConfig(t, backend.URL), newMemoryRunStore())
	require.NoError(t, err)

	_, err = svc.WriteReport(&agent.RunResult{RunID: "run-1"})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrReport))
}

func TestResearchService_Schedule(t *testing.T) {
	backend := fakeBackend(t)

	svc, err := NewResearchService(testServiceConfig(t, backend.URL), newMemoryRunStore())
	require.NoError(t, err)

	c := cron.New()
	require.NoError(t, svc.Schedule(context.Background(), c))
	assert.Len(t, c.Entries(), 1)
}

func TestResearchService_Status(t *testing.T) {
	backend := fakeBackend(t)

	svc, err := NewResearchService(testServiceConfig(t, backend.URL), newMemoryRunStore())
	require.NoError(t, err)

	status := svc.Status()
	assert.Contains(t, status, "next_maintenance")
	// Without a search key only fetch_page is registered.
	assert.Equal(t, []string{"fetch_page"}, status["tools"])
}

func TestResearchError(t *testing.T) {
	cause := assert.AnError
	err := WrapError(cause, ErrStorage, "save failed").WithContext("run_id", "run-1")

	assert.Contains(t, err.Error(), "[Storage] save failed")
	assert.Contains(t, err.Error(), "run_id=run-1")
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsErrorType(err, ErrStorage))
	assert.False(t, IsErrorType(err, ErrNetwork))
}
