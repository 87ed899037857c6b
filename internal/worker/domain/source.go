package domain

import "context"

// JobSource is the upstream system jobs are polled from and results reported to
type JobSource interface {
	// Poll returns at most maxBatchSize jobs available to this worker.
	Poll(ctx context.Context, maxBatchSize int) ([]*Job, error)

	// Acknowledge claims a job. Only JobStatusInProgress grants ownership.
	Acknowledge(ctx context.Context, jobID, clientID, nonce string) (JobStatus, error)

	// ReportSuccess marks a job successful, or still running when continuationToken is set.
	ReportSuccess(ctx context.Context, jobID, clientID string, details *ExecutionDetails,
		revision *CurrentRevision, continuationToken string) error

	// ReportFailure marks a job failed.
	ReportFailure(ctx context.Context, jobID, clientID string, failure FailureDetails) error
}

// JobProcessor performs the work of a job
type JobProcessor interface {
	Process(ctx context.Context, job *Job) (*WorkResult, error)
}
