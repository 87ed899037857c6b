// Package events publishes job lifecycle events for other services to consume.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

// Event types, also used as routing keys
const (
	EventAcknowledged = "acknowledged"
	EventSucceeded    = "succeeded"
	EventFailed       = "failed"
)

const contentTypeJSON = "application/json"

// DefaultPublishTimeout bounds a publish when no timeout is given. Events are
// published from worker slots, so a stalled broker must not hold them.
const DefaultPublishTimeout = 5 * time.Second

// Publisher sends a message to a broker. *rabbitmq.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// JobEvent is the message body of every event
type JobEvent struct {
	Type              string                   `json:"type"`
	JobID             string                   `json:"job_id"`
	ClientID          string                   `json:"client_id"`
	Status            domain.JobStatus         `json:"status,omitempty"`
	ExecutionDetails  *domain.ExecutionDetails `json:"execution_details,omitempty"`
	CurrentRevision   *domain.CurrentRevision  `json:"current_revision,omitempty"`
	ContinuationToken string                   `json:"continuation_token,omitempty"`
	Failure           *domain.FailureDetails   `json:"failure,omitempty"`
	Timestamp         time.Time                `json:"timestamp"`
}

// NotifyingSource wraps a JobSource and publishes an event after each
// successful acknowledgement and report. Publishing never fails the wrapped call.
type NotifyingSource struct {
	domain.JobSource
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewNotifyingSource wraps source. Each publish, retries included, is cut off
// after timeout; zero means DefaultPublishTimeout.
func NewNotifyingSource(source domain.JobSource, publisher Publisher, timeout time.Duration,
	logger *slog.Logger) (*NotifyingSource, error) {
	if source == nil || publisher == nil || logger == nil {
		return nil, fmt.Errorf("%w: source, publisher and logger are required", domain.ErrNilDependency)
	}
	if timeout < 0 {
		return nil, fmt.Errorf("publish timeout must not be negative, got %s", timeout)
	}
	if timeout == 0 {
		timeout = DefaultPublishTimeout
	}
	return &NotifyingSource{
		JobSource: source,
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Acknowledge implements domain.JobSource
func (s *NotifyingSource) Acknowledge(ctx context.Context, jobID, clientID, nonce string) (domain.JobStatus, error) {
	status, err := s.JobSource.Acknowledge(ctx, jobID, clientID, nonce)
	if err != nil {
		return status, err
	}

	s.publish(ctx, JobEvent{
		Type:     EventAcknowledged,
		JobID:    jobID,
		ClientID: clientID,
		Status:   status,
	})
	return status, nil
}

// ReportSuccess implements domain.JobSource
func (s *NotifyingSource) ReportSuccess(ctx context.Context, jobID, clientID string, details *domain.ExecutionDetails,
	revision *domain.CurrentRevision, continuationToken string) error {
	if err := s.JobSource.ReportSuccess(ctx, jobID, clientID, details, revision, continuationToken); err != nil {
		return err
	}

	s.publish(ctx, JobEvent{
		Type:              EventSucceeded,
		JobID:             jobID,
		ClientID:          clientID,
		ExecutionDetails:  details,
		CurrentRevision:   revision,
		ContinuationToken: continuationToken,
	})
	return nil
}

// ReportFailure implements domain.JobSource
func (s *NotifyingSource) ReportFailure(ctx context.Context, jobID, clientID string, failure domain.FailureDetails) error {
	if err := s.JobSource.ReportFailure(ctx, jobID, clientID, failure); err != nil {
		return err
	}

	s.publish(ctx, JobEvent{
		Type:     EventFailed,
		JobID:    jobID,
		ClientID: clientID,
		Failure:  &failure,
	})
	return nil
}

func (s *NotifyingSource) publish(ctx context.Context, event JobEvent) {
	event.Timestamp = s.now().UTC()

	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to encode job event",
			slog.String("job_id", event.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, event.Type, body, contentTypeJSON); err != nil {
		s.logger.Warn("Failed to publish job event",
			slog.String("job_id", event.JobID),
			slog.String("event", event.Type),
			slog.String("error", err.Error()),
		)
	}
}
