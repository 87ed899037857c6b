// Package codepipeline implements job sources on top of the AWS CodePipeline
// job worker APIs, for custom actions and third-party actions.
package codepipeline

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

// API is the subset of the CodePipeline client used by the job sources.
// *codepipeline.Client satisfies it.
type API interface {
	PollForJobs(ctx context.Context, params *codepipeline.PollForJobsInput,
		optFns ...func(*codepipeline.Options)) (*codepipeline.PollForJobsOutput, error)
	AcknowledgeJob(ctx context.Context, params *codepipeline.AcknowledgeJobInput,
		optFns ...func(*codepipeline.Options)) (*codepipeline.AcknowledgeJobOutput, error)
	PutJobSuccessResult(ctx context.Context, params *codepipeline.PutJobSuccessResultInput,
		optFns ...func(*codepipeline.Options)) (*codepipeline.PutJobSuccessResultOutput, error)
	PutJobFailureResult(ctx context.Context, params *codepipeline.PutJobFailureResultInput,
		optFns ...func(*codepipeline.Options)) (*codepipeline.PutJobFailureResultOutput, error)

	PollForThirdPartyJobs(ctx context.Context, params *codepipeline.PollForThirdPartyJobsInput,
		optFns ...func(*codepipeline.Options)) (*codepipeline.PollForThirdPartyJobsOutput, error)
	GetThirdPartyJobDetails(ctx context.Context, params *codepipeline.GetThirdPartyJobDetailsInput,
		optFns ...func(*codepipeline.Options)) (*codepipeline.GetThirdPartyJobDetailsOutput, error)
	AcknowledgeThirdPartyJob(ctx context.Context, params *codepipeline.AcknowledgeThirdPartyJobInput,
		optFns ...func(*codepipeline.Options)) (*codepipeline.AcknowledgeThirdPartyJobOutput, error)
	PutThirdPartyJobSuccessResult(ctx context.Context, params *codepipeline.PutThirdPartyJobSuccessResultInput,
		optFns ...func(*codepipeline.Options)) (*codepipeline.PutThirdPartyJobSuccessResultOutput, error)
	PutThirdPartyJobFailureResult(ctx context.Context, params *codepipeline.PutThirdPartyJobFailureResultInput,
		optFns ...func(*codepipeline.Options)) (*codepipeline.PutThirdPartyJobFailureResultOutput, error)
}

// NewClient loads the default AWS configuration for region and returns a
// CodePipeline client
func NewClient(ctx context.Context, region string) (*codepipeline.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return codepipeline.NewFromConfig(cfg), nil
}

// apiError wraps an error returned by a CodePipeline call. Throttling and
// transient service errors that outlasted the SDK's own retries are marked
// retryable: the job comes back on a later poll once its lease lapses.
func apiError(action string, err error) error {
	wrapped := fmt.Errorf("failed to %s: %w", action, err)
	if isTransient(err) {
		return domain.NewRetryableError(wrapped)
	}
	return wrapped
}

func isTransient(err error) bool {
	return retry.IsErrorThrottles(retry.DefaultThrottles).IsErrorThrottle(err) == aws.TrueTernary ||
		retry.IsErrorRetryables(retry.DefaultRetryables).IsErrorRetryable(err) == aws.TrueTernary
}
