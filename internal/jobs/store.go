package jobs

import "context"

// Store persists job states for queue restart recovery.
type Store interface {
	LoadJobs(ctx context.Context) ([]*ResearchJob, error)
	UpsertJob(ctx context.Context, job *ResearchJob) error
	DeleteJob(ctx context.Context, jobID string) error
	// DeleteJobData removes all auxiliary data (stored runs) for a job.
	DeleteJobData(ctx context.Context, jobID string) error
}
