package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/metrics"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

// Task stages, used in logs and metrics
const (
	stageAcknowledge = "acknowledge"
	stageProcess     = "process"
	stageReport      = "report"
)

var errNilResult = errors.New("processor returned no result")

// jobTask acknowledges, processes and reports a single job
type jobTask struct {
	job       *domain.Job
	source    domain.JobSource
	processor domain.JobProcessor
	logger    *slog.Logger
	tracer    trace.Tracer
	timeout   time.Duration
	// tick links the task span to the span of the tick that polled the job
	tick trace.Link

	stage string
}

// Run is the task's single failure boundary: errors and panics from any stage
// are logged with the job id and never escape.
func (t *jobTask) Run(ctx context.Context) {
	start := time.Now()
	logger := t.logger.With(slog.String("job_id", t.job.ID))

	ctx, span := t.tracer.Start(ctx, "worker.JobTask",
		trace.WithLinks(t.tick),
		trace.WithAttributes(
			attribute.String("job.id", t.job.ID),
			attribute.String("job.client_id", t.job.ClientID),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job task panicked",
				slog.String("stage", t.stage),
				slog.Any("panic", r),
			)
			metrics.TaskErrorsTotal.WithLabelValues(t.stage).Inc()
			span.SetStatus(codes.Error, fmt.Sprintf("panic: %v", r))
		}
		metrics.TaskDuration.Observe(time.Since(start).Seconds())
	}()

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	if err := t.execute(ctx, logger); err != nil {
		// the source redelivers an unreported job once its acknowledgement lapses
		if domain.IsRetryable(err) {
			logger.Warn("Job task hit a transient error, job will be redelivered",
				slog.String("stage", t.stage),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Error("Job task failed",
				slog.String("stage", t.stage),
				slog.String("error", err.Error()),
			)
		}
		metrics.TaskErrorsTotal.WithLabelValues(t.stage).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (t *jobTask) execute(ctx context.Context, logger *slog.Logger) error {
	t.stage = stageAcknowledge
	status, err := t.source.Acknowledge(ctx, t.job.ID, t.job.ClientID, t.job.Nonce)
	if err != nil {
		return fmt.Errorf("failed to acknowledge job: %w", err)
	}
	metrics.AcknowledgementsTotal.WithLabelValues(status.String()).Inc()

	if !status.IsGranted() {
		logger.Warn("Job was not granted to this worker, skipping",
			slog.String("status", status.String()),
		)
		return nil
	}

	t.stage = stageProcess
	logger.Info("Processing job")
	result, err := t.processor.Process(ctx, t.job)
	if err != nil {
		return fmt.Errorf("failed to process job: %w", err)
	}
	if result == nil {
		return errNilResult
	}
	if result.JobID() != t.job.ID {
		return fmt.Errorf("processor returned a result for job %q", result.JobID())
	}

	t.stage = stageReport
	switch result.Status() {
	case domain.ResultStatusSuccess:
		payload := result.Success()
		if err := t.source.ReportSuccess(ctx, t.job.ID, t.job.ClientID,
			payload.ExecutionDetails, payload.CurrentRevision, payload.ContinuationToken); err != nil {
			return fmt.Errorf("failed to report job success: %w", err)
		}
		metrics.ResultsTotal.WithLabelValues("success").Inc()
		logger.Info("Job succeeded",
			slog.Bool("continuation", payload.ContinuationToken != ""),
		)

	case domain.ResultStatusFailure:
		failure := result.Failure()
		if err := t.source.ReportFailure(ctx, t.job.ID, t.job.ClientID, *failure); err != nil {
			return fmt.Errorf("failed to report job failure: %w", err)
		}
		metrics.ResultsTotal.WithLabelValues("failure").Inc()
		logger.Info("Job failed",
			slog.String("failure_type", string(failure.Type)),
			slog.String("message", failure.Message),
		)
	}

	return nil
}
