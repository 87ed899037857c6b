package codepipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

// CustomActionSource polls jobs of a custom action owned by this AWS account.
// The client id of its jobs is the account id.
type CustomActionSource struct {
	api        API
	actionType domain.ActionType
	logger     *slog.Logger
}

// NewCustomActionSource creates a source for actionType
func NewCustomActionSource(api API, actionType domain.ActionType, logger *slog.Logger) (*CustomActionSource, error) {
	if api == nil || logger == nil {
		return nil, fmt.Errorf("%w: api and logger are required", domain.ErrNilDependency)
	}
	if err := actionType.Validate(); err != nil {
		return nil, err
	}
	return &CustomActionSource{api: api, actionType: actionType, logger: logger}, nil
}

// Poll implements domain.JobSource
func (s *CustomActionSource) Poll(ctx context.Context, maxBatchSize int) ([]*domain.Job, error) {
	s.logger.Info("PollForJobs",
		slog.String("action_type", s.actionType.String()),
		slog.Int("max_batch_size", maxBatchSize),
	)

	out, err := s.api.PollForJobs(ctx, &codepipeline.PollForJobsInput{
		ActionTypeId: toActionTypeID(s.actionType),
		MaxBatchSize: aws.Int32(int32(maxBatchSize)),
	})
	if err != nil {
		return nil, apiError("poll for jobs", err)
	}

	jobs := make([]*domain.Job, 0, len(out.Jobs))
	for _, j := range out.Jobs {
		jobs = append(jobs, toJob(aws.ToString(j.Id), aws.ToString(j.Nonce), aws.ToString(j.AccountId), j.Data))
	}
	return jobs, nil
}

// Acknowledge implements domain.JobSource
func (s *CustomActionSource) Acknowledge(ctx context.Context, jobID, clientID, nonce string) (domain.JobStatus, error) {
	s.logger.Info("AcknowledgeJob",
		slog.String("job_id", jobID),
		slog.String("client_id", clientID),
	)

	out, err := s.api.AcknowledgeJob(ctx, &codepipeline.AcknowledgeJobInput{
		JobId: aws.String(jobID),
		Nonce: aws.String(nonce),
	})
	if err != nil {
		return "", apiError("acknowledge job", err)
	}
	return domain.ParseJobStatus(string(out.Status)), nil
}

// ReportSuccess implements domain.JobSource
func (s *CustomActionSource) ReportSuccess(ctx context.Context, jobID, clientID string, details *domain.ExecutionDetails,
	revision *domain.CurrentRevision, continuationToken string) error {
	s.logger.Info("PutJobSuccessResult", slog.String("job_id", jobID))

	_, err := s.api.PutJobSuccessResult(ctx, &codepipeline.PutJobSuccessResultInput{
		JobId:             aws.String(jobID),
		ExecutionDetails:  fromExecutionDetails(details),
		CurrentRevision:   fromCurrentRevision(revision),
		ContinuationToken: optionalString(continuationToken),
	})
	if err != nil {
		return apiError("put job success result", err)
	}
	return nil
}

// ReportFailure implements domain.JobSource
func (s *CustomActionSource) ReportFailure(ctx context.Context, jobID, clientID string, failure domain.FailureDetails) error {
	s.logger.Info("PutJobFailureResult", slog.String("job_id", jobID))

	_, err := s.api.PutJobFailureResult(ctx, &codepipeline.PutJobFailureResultInput{
		JobId:          aws.String(jobID),
		FailureDetails: fromFailureDetails(failure),
	})
	if err != nil {
		return apiError("put job failure result", err)
	}
	return nil
}
