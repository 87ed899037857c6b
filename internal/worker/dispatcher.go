package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/metrics"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

const tracerName = "github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker"

// Executor runs tasks on a bounded set of workers. *Pool implements it.
type Executor interface {
	Submit(task Task) error
	ActiveCount() int
	Size() int
}

// DispatcherConfig holds dispatcher configuration
type DispatcherConfig struct {
	Logger    *slog.Logger
	Source    domain.JobSource
	Processor domain.JobProcessor
	Pool      Executor
	// BatchSize caps both a single poll and the jobs in flight. Zero means the pool size.
	BatchSize int
	// TaskTimeout bounds a single job task. Zero means no deadline.
	TaskTimeout time.Duration
}

// Dispatcher polls the job source for as many jobs as the batch size leaves
// room for and submits one task per job.
type Dispatcher struct {
	logger      *slog.Logger
	source      domain.JobSource
	processor   domain.JobProcessor
	pool        Executor
	batchSize   int
	taskTimeout time.Duration
	tracer      trace.Tracer
}

// NewDispatcher creates a dispatcher. Missing collaborators are reported here
// rather than on the first tick.
func NewDispatcher(cfg *DispatcherConfig) (*Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: dispatcher config", domain.ErrNilDependency)
	}
	switch {
	case cfg.Logger == nil:
		return nil, fmt.Errorf("%w: logger", domain.ErrNilDependency)
	case cfg.Source == nil:
		return nil, fmt.Errorf("%w: job source", domain.ErrNilDependency)
	case cfg.Processor == nil:
		return nil, fmt.Errorf("%w: job processor", domain.ErrNilDependency)
	case cfg.Pool == nil:
		return nil, fmt.Errorf("%w: worker pool", domain.ErrNilDependency)
	}

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = cfg.Pool.Size()
	}
	if batchSize < 1 || batchSize > cfg.Pool.Size() {
		return nil, fmt.Errorf("batch size must be between 1 and pool size %d, got %d", cfg.Pool.Size(), batchSize)
	}
	if cfg.TaskTimeout < 0 {
		return nil, fmt.Errorf("task timeout must not be negative, got %s", cfg.TaskTimeout)
	}

	return &Dispatcher{
		logger:      cfg.Logger.With(slog.String("component", "dispatcher")),
		source:      cfg.Source,
		processor:   cfg.Processor,
		pool:        cfg.Pool,
		batchSize:   batchSize,
		taskTimeout: cfg.TaskTimeout,
		tracer:      otel.Tracer(tracerName),
	}, nil
}

// Tick runs one poll-and-dispatch cycle. It never panics and never returns an
// error: every failure is logged and the tick ends early.
func (d *Dispatcher) Tick(ctx context.Context) {
	tickID := uuid.NewString()
	logger := d.logger.With(slog.String("tick_id", tickID))

	ctx, span := d.tracer.Start(ctx, "dispatcher.Tick",
		trace.WithAttributes(attribute.String("tick.id", tickID)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Dispatcher tick panicked", slog.Any("panic", r))
			span.SetStatus(codes.Error, fmt.Sprintf("panic: %v", r))
		}
	}()

	// capacity is measured against the batch size, not the pool size, so a
	// batch smaller than the pool also caps the number of jobs in flight
	available := d.batchSize - d.pool.ActiveCount()
	if available <= 0 {
		logger.Debug("No free capacity, skipping poll",
			slog.Int("active", d.pool.ActiveCount()),
		)
		metrics.PollsTotal.WithLabelValues("skipped").Inc()
		return
	}
	batchSize := min(available, d.batchSize)
	span.SetAttributes(attribute.Int("poll.batch_size", batchSize))

	jobs, err := d.source.Poll(ctx, batchSize)
	if err != nil {
		level := slog.LevelError
		if domain.IsRetryable(err) {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "Failed to poll for jobs",
			slog.Int("batch_size", batchSize),
			slog.String("error", err.Error()),
		)
		metrics.PollsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	metrics.PollsTotal.WithLabelValues("ok").Inc()
	metrics.JobsPolledTotal.Add(float64(len(jobs)))

	if len(jobs) == 0 {
		logger.Debug("No jobs available", slog.Int("batch_size", batchSize))
		return
	}
	logger.Info("Received jobs",
		slog.Int("count", len(jobs)),
		slog.Int("batch_size", batchSize),
	)

	tickLink := trace.LinkFromContext(ctx)
	seen := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if job == nil {
			logger.Warn("Job source returned a nil job")
			continue
		}
		if _, dup := seen[job.ID]; dup {
			logger.Warn("Job returned twice in one poll, skipping duplicate",
				slog.String("job_id", job.ID),
			)
			metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		seen[job.ID] = struct{}{}

		task := &jobTask{
			job:       job,
			source:    d.source,
			processor: d.processor,
			logger:    d.logger,
			tracer:    d.tracer,
			timeout:   d.taskTimeout,
			tick:      tickLink,
		}
		if err := d.pool.Submit(task.Run); err != nil {
			logger.Error("Failed to submit job to worker pool",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
			continue
		}
		metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	}
}
