package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

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
	return m.Called(ctx, jobID, clientID, details, revision, continuationToken).Error(0)
}

func (m *mockJobSource) ReportFailure(ctx context.Context, jobID, clientID string, failure domain.FailureDetails) error {
	return m.Called(ctx, jobID, clientID, failure).Error(0)
}

type message struct {
	routingKey  string
	body        []byte
	contentType string
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []message
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, body []byte, contentType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message{routingKey: routingKey, body: body, contentType: contentType})
	return p.err
}

func newTestSource(t *testing.T, publisher Publisher) (*NotifyingSource, *mockJobSource) {
	t.Helper()
	inner := &mockJobSource{}
	s, err := NewNotifyingSource(inner, publisher, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s, inner
}

func decode(t *testing.T, m message) JobEvent {
	t.Helper()
	var event JobEvent
	require.NoError(t, json.Unmarshal(m.body, &event))
	return event
}

func TestNewNotifyingSource_Validation(t *testing.T) {
	_, err := NewNotifyingSource(nil, &recordingPublisher{}, 0, slog.Default())
	assert.ErrorIs(t, err, domain.ErrNilDependency)

	_, err = NewNotifyingSource(&mockJobSource{}, nil, 0, slog.Default())
	assert.ErrorIs(t, err, domain.ErrNilDependency)

	_, err = NewNotifyingSource(&mockJobSource{}, &recordingPublisher{}, -time.Second, slog.Default())
	assert.Error(t, err)

	s, err := NewNotifyingSource(&mockJobSource{}, &recordingPublisher{}, 0, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, DefaultPublishTimeout, s.timeout)
}

func TestNotifyingSource_PollPassesThrough(t *testing.T) {
	publisher := &recordingPublisher{}
	s, inner := newTestSource(t, publisher)
	jobs := []*domain.Job{{ID: "job-1"}}
	inner.On("Poll", mock.Anything, 4).Return(jobs, nil)

	got, err := s.Poll(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, jobs, got)
	assert.Empty(t, publisher.messages)
}

func TestNotifyingSource_Acknowledge(t *testing.T) {
	publisher := &recordingPublisher{}
	s, inner := newTestSource(t, publisher)
	inner.On("Acknowledge", mock.Anything, "job-1", "client-1", "nonce-1").
		Return(domain.JobStatusInProgress, nil)

	status, err := s.Acknowledge(context.Background(), "job-1", "client-1", "nonce-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusInProgress, status)

	require.Len(t, publisher.messages, 1)
	m := publisher.messages[0]
	assert.Equal(t, EventAcknowledged, m.routingKey)
	assert.Equal(t, "application/json", m.contentType)

	event := decode(t, m)
	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, "client-1", event.ClientID)
	assert.Equal(t, domain.JobStatusInProgress, event.Status)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), event.Timestamp)
}

func TestNotifyingSource_Reports(t *testing.T) {
	publisher := &recordingPublisher{}
	s, inner := newTestSource(t, publisher)
	ctx := context.Background()

	details := &domain.ExecutionDetails{Summary: "done", PercentComplete: 100}
	failure := domain.FailureDetails{Type: domain.FailureTypeJobFailed, Message: "job failed"}
	inner.On("ReportSuccess", mock.Anything, "job-1", "client-1", details, (*domain.CurrentRevision)(nil), "").Return(nil)
	inner.On("ReportFailure", mock.Anything, "job-2", "client-1", failure).Return(nil)

	require.NoError(t, s.ReportSuccess(ctx, "job-1", "client-1", details, nil, ""))
	require.NoError(t, s.ReportFailure(ctx, "job-2", "client-1", failure))

	require.Len(t, publisher.messages, 2)

	succeeded := decode(t, publisher.messages[0])
	assert.Equal(t, EventSucceeded, succeeded.Type)
	assert.Equal(t, details, succeeded.ExecutionDetails)
	assert.Nil(t, succeeded.Failure)

	failed := decode(t, publisher.messages[1])
	assert.Equal(t, EventFailed, publisher.messages[1].routingKey)
	assert.Equal(t, "job-2", failed.JobID)
	require.NotNil(t, failed.Failure)
	assert.Equal(t, failure, *failed.Failure)
}

func TestNotifyingSource_NoEventOnError(t *testing.T) {
	publisher := &recordingPublisher{}
	s, inner := newTestSource(t, publisher)
	ctx := context.Background()
	inner.On("Acknowledge", mock.Anything, "job-1", "client-1", "nonce-1").
		Return(domain.JobStatus(""), errors.New("network"))
	inner.On("ReportFailure", mock.Anything, "job-1", "client-1", mock.Anything).Return(errors.New("network"))

	_, err := s.Acknowledge(ctx, "job-1", "client-1", "nonce-1")
	assert.Error(t, err)
	err = s.ReportFailure(ctx, "job-1", "client-1", domain.FailureDetails{Type: domain.FailureTypeJobFailed})
	assert.Error(t, err)

	assert.Empty(t, publisher.messages)
}

func TestNotifyingSource_PublishErrorIsNotReturned(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("broker down")}
	s, inner := newTestSource(t, publisher)
	inner.On("ReportSuccess", mock.Anything, "job-1", "client-1", mock.Anything, mock.Anything, "").Return(nil)

	err := s.ReportSuccess(context.Background(), "job-1", "client-1", nil, nil, "")
	assert.NoError(t, err)
	assert.Len(t, publisher.messages, 1)
}

// stallingPublisher blocks like a client backing off against an unreachable broker
type stallingPublisher struct{}

func (stallingPublisher) Publish(ctx context.Context, routingKey string, body []byte, contentType string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Minute):
		return errors.New("broker unreachable")
	}
}

func TestNotifyingSource_PublishIsBounded(t *testing.T) {
	inner := &mockJobSource{}
	inner.On("ReportSuccess", mock.Anything, "job-1", "client-1", mock.Anything, mock.Anything, "").Return(nil)
	s, err := NewNotifyingSource(inner, stallingPublisher{}, 50*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	start := time.Now()
	err = s.ReportSuccess(context.Background(), "job-1", "client-1", nil, nil, "")

	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
