package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/storage"
)

// JobStore is the job table behind the jobs endpoints. *storage.Storage satisfies it.
type JobStore interface {
	Enqueue(ctx context.Context, job storage.NewJob) (*storage.JobRecord, error)
	Get(ctx context.Context, jobID string) (*storage.JobRecord, error)
	List(ctx context.Context, filter storage.JobFilter) ([]storage.JobRecord, error)
}

// PoolStats reports worker pool occupancy
type PoolStats interface {
	Size() int
	ActiveCount() int
}

// HealthChecker is a backing service checked by /health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	// Jobs is nil unless the worker polls the built-in job table
	Jobs       JobStore
	Pool       PoolStats
	WorkerID   string
	Source     string
	ActionType string
	StartedAt  time.Time
	// HealthChecks run on /health, keyed by the name reported in the response
	HealthChecks map[string]HealthChecker
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobStore
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}
