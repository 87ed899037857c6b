package worker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

func newTestTask(job *domain.Job, source domain.JobSource, processor domain.JobProcessor, logger *slog.Logger) *jobTask {
	return &jobTask{
		job:       job,
		source:    source,
		processor: processor,
		logger:    logger,
		tracer:    otel.Tracer("test"),
	}
}

func TestJobTask_Success(t *testing.T) {
	job := newJob("job-1")
	details := &domain.ExecutionDetails{Summary: "done", ExternalExecutionID: "ext-1", PercentComplete: 100}
	revision := &domain.CurrentRevision{Revision: "r1", ChangeIdentifier: "c1"}
	result, err := domain.SucceededResult(job.ID, domain.SuccessPayload{
		ExecutionDetails: details,
		CurrentRevision:  revision,
	})
	require.NoError(t, err)

	source := &mockJobSource{}
	source.On("Acknowledge", mock.Anything, "job-1", "client-1", "nonce-job-1").Return(domain.JobStatusInProgress, nil)
	source.On("ReportSuccess", mock.Anything, "job-1", "client-1", details, revision, "").Return(nil)

	processor := &mockJobProcessor{}
	processor.On("Process", mock.Anything, job).Return(result, nil)

	newTestTask(job, source, processor, newTestLogger()).Run(context.Background())

	source.AssertExpectations(t)
	processor.AssertExpectations(t)
	source.AssertNotCalled(t, "ReportFailure", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJobTask_SuccessWithContinuationToken(t *testing.T) {
	job := newJob("job-1")
	result, err := domain.SucceededResult(job.ID, domain.SuccessPayload{ContinuationToken: "step-2"})
	require.NoError(t, err)

	source := &mockJobSource{}
	source.On("Acknowledge", mock.Anything, "job-1", "client-1", "nonce-job-1").Return(domain.JobStatusInProgress, nil)
	source.On("ReportSuccess", mock.Anything, "job-1", "client-1",
		(*domain.ExecutionDetails)(nil), (*domain.CurrentRevision)(nil), "step-2").Return(nil)

	processor := &mockJobProcessor{}
	processor.On("Process", mock.Anything, job).Return(result, nil)

	newTestTask(job, source, processor, newTestLogger()).Run(context.Background())

	source.AssertExpectations(t)
}

// Acknowledge outcomes other than InProgress never reach the processor
func TestJobTask_NotGranted(t *testing.T) {
	statuses := []domain.JobStatus{
		domain.JobStatusTimedOut,
		domain.JobStatusSucceeded,
		domain.JobStatusFailed,
		domain.JobStatusQueued,
		domain.JobStatus("Unknown"),
	}

	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			job := newJob("job-1")
			source := &mockJobSource{}
			source.On("Acknowledge", mock.Anything, "job-1", "client-1", "nonce-job-1").Return(status, nil)
			processor := &mockJobProcessor{}
			logger, logs := newCapturingLogger()

			assert.NotPanics(t, func() {
				newTestTask(job, source, processor, logger).Run(context.Background())
			})

			processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
			source.AssertNotCalled(t, "ReportSuccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			source.AssertNotCalled(t, "ReportFailure", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			assert.Contains(t, logs.String(), `"level":"WARN"`)
			assert.Contains(t, logs.String(), `"job_id":"job-1"`)
		})
	}
}

func TestJobTask_FailureResultIsReported(t *testing.T) {
	job := newJob("job-1")
	result, err := domain.FailedResult(job.ID, domain.FailureTypeJobFailed, "x")
	require.NoError(t, err)

	source := &mockJobSource{}
	source.On("Acknowledge", mock.Anything, "job-1", "client-1", "nonce-job-1").Return(domain.JobStatusInProgress, nil)
	source.On("ReportFailure", mock.Anything, "job-1", "client-1",
		domain.FailureDetails{Type: domain.FailureTypeJobFailed, Message: "x"}).Return(nil)

	processor := &mockJobProcessor{}
	processor.On("Process", mock.Anything, job).Return(result, nil)

	newTestTask(job, source, processor, newTestLogger()).Run(context.Background())

	source.AssertExpectations(t)
	source.AssertNotCalled(t, "ReportSuccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJobTask_ErrorsAreContained(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name          string
		setup         func(source *mockJobSource, processor *mockJobProcessor)
		wantProcessed bool
		wantStage     string
	}{
		{
			name: "acknowledge error",
			setup: func(source *mockJobSource, processor *mockJobProcessor) {
				source.On("Acknowledge", mock.Anything, "job-1", "client-1", "nonce-job-1").Return(domain.JobStatus(""), boom)
			},
			wantStage: stageAcknowledge,
		},
		{
			name: "processor error",
			setup: func(source *mockJobSource, processor *mockJobProcessor) {
				source.On("Acknowledge", mock.Anything, "job-1", "client-1", "nonce-job-1").Return(domain.JobStatusInProgress, nil)
				processor.On("Process", mock.Anything, mock.Anything).Return(nil, boom)
			},
			wantProcessed: true,
			wantStage:     stageProcess,
		},
		{
			name: "processor panic",
			setup: func(source *mockJobSource, processor *mockJobProcessor) {
				source.On("Acknowledge", mock.Anything, "job-1", "client-1", "nonce-job-1").Return(domain.JobStatusInProgress, nil)
				processor.On("Process", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })
			},
			wantProcessed: true,
			wantStage:     stageProcess,
		},
		{
			name: "processor returns no result",
			setup: func(source *mockJobSource, processor *mockJobProcessor) {
				source.On("Acknowledge", mock.Anything, "job-1", "client-1", "nonce-job-1").Return(domain.JobStatusInProgress, nil)
				processor.On("Process", mock.Anything, mock.Anything).Return(nil, nil)
			},
			wantProcessed: true,
			wantStage:     stageProcess,
		},
		{
			name: "result for another job",
			setup: func(source *mockJobSource, processor *mockJobProcessor) {
				other, _ := domain.FailedResult("job-2", domain.FailureTypeJobFailed, "x")
				source.On("Acknowledge", mock.Anything, "job-1", "client-1", "nonce-job-1").Return(domain.JobStatusInProgress, nil)
				processor.On("Process", mock.Anything, mock.Anything).Return(other, nil)
			},
			wantProcessed: true,
			wantStage:     stageProcess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &mockJobSource{}
			processor := &mockJobProcessor{}
			tt.setup(source, processor)
			logger, logs := newCapturingLogger()

			assert.NotPanics(t, func() {
				newTestTask(newJob("job-1"), source, processor, logger).Run(context.Background())
			})

			if tt.wantProcessed {
				processor.AssertNumberOfCalls(t, "Process", 1)
			} else {
				processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
			}
			source.AssertNotCalled(t, "ReportSuccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			source.AssertNotCalled(t, "ReportFailure", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			assert.Contains(t, logs.String(), `"level":"ERROR"`)
			assert.Contains(t, logs.String(), `"job_id":"job-1"`)
			assert.Contains(t, logs.String(), `"stage":"`+tt.wantStage+`"`)
		})
	}
}

func TestJobTask_ReportErrorIsContained(t *testing.T) {
	job := newJob("job-1")
	result, err := domain.FailedResult(job.ID, domain.FailureTypeSystemUnavailable, "down")
	require.NoError(t, err)

	source := &mockJobSource{}
	source.On("Acknowledge", mock.Anything, "job-1", "client-1", "nonce-job-1").Return(domain.JobStatusInProgress, nil)
	source.On("ReportFailure", mock.Anything, "job-1", "client-1", mock.Anything).Return(errors.New("throttled"))
	processor := &mockJobProcessor{}
	processor.On("Process", mock.Anything, job).Return(result, nil)
	logger, logs := newCapturingLogger()

	assert.NotPanics(t, func() {
		newTestTask(job, source, processor, logger).Run(context.Background())
	})

	source.AssertNumberOfCalls(t, "ReportFailure", 1)
	assert.Contains(t, logs.String(), `"stage":"report"`)
	assert.Contains(t, logs.String(), "throttled")
}

func TestJobTask_TimeoutBoundsProcessing(t *testing.T) {
	job := newJob("job-1")
	source := &mockJobSource{}
	source.On("Acknowledge", mock.Anything, "job-1", "client-1", "nonce-job-1").Return(domain.JobStatusInProgress, nil)

	processor := &mockJobProcessor{}
	var deadlineSet bool
	processor.On("Process", mock.Anything, job).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			_, deadlineSet = ctx.Deadline()
			<-ctx.Done()
		}).
		Return(nil, context.DeadlineExceeded)

	task := newTestTask(job, source, processor, newTestLogger())
	task.timeout = 20 * time.Millisecond

	done := make(chan struct{})
	go func() {
		task.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not honor its timeout")
	}
	assert.True(t, deadlineSet)
	source.AssertNotCalled(t, "ReportFailure", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJobTask_TransientErrorIsWarned(t *testing.T) {
	source := &mockJobSource{}
	source.On("Acknowledge", mock.Anything, "job-1", "client-1", "nonce-job-1").
		Return(domain.JobStatus(""), domain.NewRetryableError(errors.New("rate exceeded")))
	processor := &mockJobProcessor{}
	logger, logs := newCapturingLogger()

	newTestTask(newJob("job-1"), source, processor, logger).Run(context.Background())

	processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
	assert.Contains(t, logs.String(), `"level":"WARN"`)
	assert.NotContains(t, logs.String(), `"level":"ERROR"`)
	assert.Contains(t, logs.String(), `"stage":"acknowledge"`)
	assert.Contains(t, logs.String(), "will be redelivered")
}
