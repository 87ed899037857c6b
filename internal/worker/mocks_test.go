package worker

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

type mockJobSource struct {
	mock.Mock
}

func (m *mockJobSource) Poll(ctx context.Context, maxBatchSize int) ([]*domain.Job, error) {
	args := m.Called(ctx, maxBatchSize)
	jobs, _ := args.Get(0).([]*domain.Job)
	return jobs, args.Error(1)
}

func (m *mockJobSource) Acknowledge(ctx context.Context, jobID, clientID, nonce string) (domain.JobStatus, error) {
	args := m.Called(ctx, jobID, clientID, nonce)
	return args.Get(0).(domain.JobStatus), args.Error(1)
}

func (m *mockJobSource) ReportSuccess(ctx context.Context, jobID, clientID string, details *domain.ExecutionDetails,
	revision *domain.CurrentRevision, continuationToken string) error {
	args := m.Called(ctx, jobID, clientID, details, revision, continuationToken)
	return args.Error(0)
}

func (m *mockJobSource) ReportFailure(ctx context.Context, jobID, clientID string, failure domain.FailureDetails) error {
	args := m.Called(ctx, jobID, clientID, failure)
	return args.Error(0)
}

type mockJobProcessor struct {
	mock.Mock
}

func (m *mockJobProcessor) Process(ctx context.Context, job *domain.Job) (*domain.WorkResult, error) {
	args := m.Called(ctx, job)
	result, _ := args.Get(0).(*domain.WorkResult)
	return result, args.Error(1)
}

// fakeExecutor records submissions without running them
type fakeExecutor struct {
	mu        sync.Mutex
	size      int
	active    int
	submitted []Task
	// rejectWith, when set, is returned for every submission
	rejectWith error
}

func (e *fakeExecutor) Submit(task Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rejectWith != nil {
		return e.rejectWith
	}
	e.submitted = append(e.submitted, task)
	return nil
}

func (e *fakeExecutor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *fakeExecutor) Size() int {
	return e.size
}

func (e *fakeExecutor) submissions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.submitted)
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCapturingLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func newJob(id string) *domain.Job {
	return &domain.Job{
		ID:       id,
		Nonce:    "nonce-" + id,
		ClientID: "client-1",
		Data: domain.JobData{
			ActionConfiguration: map[string]string{"Key": "Value"},
		},
	}
}

func jobWithID(id string) interface{} {
	return mock.MatchedBy(func(job *domain.Job) bool { return job.ID == id })
}
