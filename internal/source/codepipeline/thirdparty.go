package codepipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

// ThirdPartySource polls jobs of a third-party action. Polling only returns
// job and client ids, so every job's details are fetched with the client token.
type ThirdPartySource struct {
	api        API
	actionType domain.ActionType
	tokens     ClientTokenProvider
	logger     *slog.Logger
}

// NewThirdPartySource creates a source for actionType
func NewThirdPartySource(api API, actionType domain.ActionType, tokens ClientTokenProvider,
	logger *slog.Logger) (*ThirdPartySource, error) {
	if api == nil || tokens == nil || logger == nil {
		return nil, fmt.Errorf("%w: api, token provider and logger are required", domain.ErrNilDependency)
	}
	if err := actionType.Validate(); err != nil {
		return nil, err
	}
	return &ThirdPartySource{api: api, actionType: actionType, tokens: tokens, logger: logger}, nil
}

// Poll implements domain.JobSource. A job whose details cannot be fetched is
// skipped; the service hands it out again once its acknowledgement times out.
func (s *ThirdPartySource) Poll(ctx context.Context, maxBatchSize int) ([]*domain.Job, error) {
	s.logger.Info("PollForThirdPartyJobs",
		slog.String("action_type", s.actionType.String()),
		slog.Int("max_batch_size", maxBatchSize),
	)

	out, err := s.api.PollForThirdPartyJobs(ctx, &codepipeline.PollForThirdPartyJobsInput{
		ActionTypeId: toActionTypeID(s.actionType),
		MaxBatchSize: aws.Int32(int32(maxBatchSize)),
	})
	if err != nil {
		return nil, apiError("poll for third party jobs", err)
	}

	jobs := make([]*domain.Job, 0, len(out.Jobs))
	for _, j := range out.Jobs {
		jobID, clientID := aws.ToString(j.JobId), aws.ToString(j.ClientId)

		details, err := s.api.GetThirdPartyJobDetails(ctx, &codepipeline.GetThirdPartyJobDetailsInput{
			JobId:       aws.String(jobID),
			ClientToken: aws.String(s.tokens.ClientToken(clientID)),
		})
		if err != nil {
			s.logger.Error("Failed to get third party job details",
				slog.String("job_id", jobID),
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if details.JobDetails == nil {
			continue
		}

		d := details.JobDetails
		jobs = append(jobs, toJob(jobID, aws.ToString(d.Nonce), clientID, thirdPartyJobData(d.Data)))
	}
	return jobs, nil
}

// Acknowledge implements domain.JobSource
func (s *ThirdPartySource) Acknowledge(ctx context.Context, jobID, clientID, nonce string) (domain.JobStatus, error) {
	s.logger.Info("AcknowledgeThirdPartyJob",
		slog.String("job_id", jobID),
		slog.String("client_id", clientID),
	)

	out, err := s.api.AcknowledgeThirdPartyJob(ctx, &codepipeline.AcknowledgeThirdPartyJobInput{
		JobId:       aws.String(jobID),
		Nonce:       aws.String(nonce),
		ClientToken: aws.String(s.tokens.ClientToken(clientID)),
	})
	if err != nil {
		return "", apiError("acknowledge third party job", err)
	}
	return domain.ParseJobStatus(string(out.Status)), nil
}

// ReportSuccess implements domain.JobSource
func (s *ThirdPartySource) ReportSuccess(ctx context.Context, jobID, clientID string, details *domain.ExecutionDetails,
	revision *domain.CurrentRevision, continuationToken string) error {
	s.logger.Info("PutThirdPartyJobSuccessResult", slog.String("job_id", jobID))

	_, err := s.api.PutThirdPartyJobSuccessResult(ctx, &codepipeline.PutThirdPartyJobSuccessResultInput{
		JobId:             aws.String(jobID),
		ClientToken:       aws.String(s.tokens.ClientToken(clientID)),
		ExecutionDetails:  fromExecutionDetails(details),
		CurrentRevision:   fromCurrentRevision(revision),
		ContinuationToken: optionalString(continuationToken),
	})
	if err != nil {
		return apiError("put third party job success result", err)
	}
	return nil
}

// ReportFailure implements domain.JobSource
func (s *ThirdPartySource) ReportFailure(ctx context.Context, jobID, clientID string, failure domain.FailureDetails) error {
	s.logger.Info("PutThirdPartyJobFailureResult", slog.String("job_id", jobID))

	_, err := s.api.PutThirdPartyJobFailureResult(ctx, &codepipeline.PutThirdPartyJobFailureResultInput{
		JobId:          aws.String(jobID),
		ClientToken:    aws.String(s.tokens.ClientToken(clientID)),
		FailureDetails: fromFailureDetails(failure),
	})
	if err != nil {
		return apiError("put third party job failure result", err)
	}
	return nil
}
