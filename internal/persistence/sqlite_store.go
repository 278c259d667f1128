package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MimeLyc/web-research-agent/internal/agent"
	"github.com/MimeLyc/web-research-agent/internal/jobs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.ResearchJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, source, dedupe_key, title, instruction, status, run_id, error, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.ResearchJob, 0)
	for rows.Next() {
		var item jobs.ResearchJob
		var status string
		if err := rows.Scan(
			&item.ID,
			&item.Source,
			&item.DedupeKey,
			&item.Payload.Title,
			&item.Payload.Instruction,
			&status,
			&item.RunID,
			&item.Error,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.Status = jobs.Status(status)
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.ResearchJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, source, dedupe_key, title, instruction, status, run_id, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source=excluded.source,
			dedupe_key=excluded.dedupe_key,
			title=excluded.title,
			instruction=excluded.instruction,
			status=excluded.status,
			run_id=excluded.run_id,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		job.ID,
		job.Source,
		job.DedupeKey,
		job.Payload.Title,
		job.Payload.Instruction,
		string(job.Status),
		job.RunID,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// DeleteJobData removes all stored runs belonging to a job.
func (s *SQLiteStore) DeleteJobData(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE job_id = ?`, jobID)
	return err
}

// SaveRun stores a finished run, including the full step history as JSON.
func (s *SQLiteStore) SaveRun(ctx context.Context, jobID string, result *agent.RunResult) error {
	if result == nil {
		return fmt.Errorf("run result is nil")
	}
	stepsJSON, err := json.Marshal(result.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO runs (
			run_id, job_id, task_title, task_instruction, final_text, reason, steps_json, tool_calls, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			job_id=excluded.job_id,
			task_title=excluded.task_title,
			task_instruction=excluded.task_instruction,
			final_text=excluded.final_text,
			reason=excluded.reason,
			steps_json=excluded.steps_json,
			tool_calls=excluded.tool_calls,
			started_at=excluded.started_at,
			ended_at=excluded.ended_at`,
		result.RunID,
		jobID,
		result.Task.Title,
		result.Task.Instruction,
		result.FinalText,
		string(result.Reason),
		string(stepsJSON),
		result.ToolCalls,
		result.StartedAt.UTC(),
		result.EndedAt.UTC(),
	)
	return err
}

// GetRun loads a stored run by its ID. The second return value reports
// whether the run exists.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*agent.RunResult, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT run_id, task_title, task_instruction, final_text, reason, steps_json, tool_calls, started_at, ended_at
		 FROM runs
		 WHERE run_id = ?`,
		runID,
	)

	var ret agent.RunResult
	var reason string
	var stepsJSON string
	if err := row.Scan(
		&ret.RunID,
		&ret.Task.Title,
		&ret.Task.Instruction,
		&ret.FinalText,
		&reason,
		&stepsJSON,
		&ret.ToolCalls,
		&ret.StartedAt,
		&ret.EndedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	ret.Reason = agent.TerminationReason(reason)
	if err := json.Unmarshal([]byte(stepsJSON), &ret.Steps); err != nil {
		return nil, false, err
	}
	return &ret, true, nil
}

// DeleteRunsBefore removes runs that ended before the cutoff. Used by the
// maintenance sweep.
func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE ended_at <= ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
