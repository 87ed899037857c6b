// Package processor holds job processors that plug into the worker.
package processor

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

// JobStatusKey is the action configuration key that makes SampleProcessor
// fail a job when set to "Failed"
const JobStatusKey = "JobStatus"

// Func adapts a plain function to domain.JobProcessor
type Func func(ctx context.Context, job *domain.Job) (*domain.WorkResult, error)

// Process implements domain.JobProcessor
func (f Func) Process(ctx context.Context, job *domain.Job) (*domain.WorkResult, error) {
	return f(ctx, job)
}

// SampleProcessor completes every job immediately. It is a template for real
// processors and lets a pipeline exercise both outcomes.
type SampleProcessor struct {
	logger *slog.Logger
}

// NewSampleProcessor creates a new SampleProcessor
func NewSampleProcessor(logger *slog.Logger) *SampleProcessor {
	return &SampleProcessor{logger: logger}
}

// Process implements domain.JobProcessor
func (p *SampleProcessor) Process(ctx context.Context, job *domain.Job) (*domain.WorkResult, error) {
	p.logger.Info("Processing job",
		slog.String("job_id", job.ID),
		slog.Int("input_artifacts", len(job.Data.InputArtifacts)),
	)

	if job.Data.ActionConfiguration[JobStatusKey] == string(domain.JobStatusFailed) {
		return domain.FailedResult(job.ID, domain.FailureTypeJobFailed, "job failed")
	}

	return domain.SucceededResult(job.ID, domain.SuccessPayload{
		ExecutionDetails: &domain.ExecutionDetails{
			Summary:             "test summary",
			ExternalExecutionID: uuid.NewString(),
			PercentComplete:     100,
		},
		CurrentRevision: &domain.CurrentRevision{
			Revision:         "test revision",
			ChangeIdentifier: "test change identifier",
		},
	})
}
