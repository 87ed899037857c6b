package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

// DefaultShutdownGrace is how long Stop waits for running tasks before forcing them
const DefaultShutdownGrace = time.Minute

// ErrAlreadyStarted is returned by Start on a daemon that was started or stopped before
var ErrAlreadyStarted = errors.New("daemon already started")

// Ticker runs one poll-and-dispatch cycle. *Dispatcher implements it.
type Ticker interface {
	Tick(ctx context.Context)
}

// Terminator is the shutdown side of a worker pool. *Pool implements it.
type Terminator interface {
	Shutdown()
	ShutdownNow() bool
	AwaitTermination(ctx context.Context) error
}

// DaemonConfig holds daemon configuration
type DaemonConfig struct {
	Logger     *slog.Logger
	Dispatcher Ticker
	Pool       Terminator
	// PollInterval is the time between ticks. Ignored when Schedule is set.
	PollInterval time.Duration
	// Schedule is an optional five-field cron expression or a descriptor
	// such as "@every 30s".
	Schedule string
}

// Daemon drives the dispatcher on a schedule and owns the shutdown sequence
type Daemon struct {
	logger     *slog.Logger
	dispatcher Ticker
	pool       Terminator
	schedule   cron.Schedule
	cron       *cron.Cron

	mu      sync.Mutex
	started bool
	tickCtx context.Context

	stopOnce sync.Once
	stopErr  error
}

// NewDaemon creates a daemon. The schedule is parsed here so a bad expression
// fails at startup.
func NewDaemon(cfg *DaemonConfig) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: daemon config", domain.ErrNilDependency)
	}
	switch {
	case cfg.Logger == nil:
		return nil, fmt.Errorf("%w: logger", domain.ErrNilDependency)
	case cfg.Dispatcher == nil:
		return nil, fmt.Errorf("%w: dispatcher", domain.ErrNilDependency)
	case cfg.Pool == nil:
		return nil, fmt.Errorf("%w: worker pool", domain.ErrNilDependency)
	}

	var schedule cron.Schedule
	if cfg.Schedule != "" {
		s, err := cron.ParseStandard(cfg.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid poll schedule %q: %w", cfg.Schedule, err)
		}
		schedule = s
	} else {
		if cfg.PollInterval < time.Second {
			return nil, fmt.Errorf("poll interval must be at least 1s, got %s", cfg.PollInterval)
		}
		schedule = cron.Every(cfg.PollInterval)
	}

	logger := cfg.Logger.With(slog.String("component", "daemon"))
	cronLogger := cronLogger{logger: logger}

	return &Daemon{
		logger:     logger,
		dispatcher: cfg.Dispatcher,
		pool:       cfg.Pool,
		schedule:   schedule,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}, nil
}

// Start schedules ticks and returns immediately. Ticks run with ctx, which
// should outlive the daemon; cancel it only to abort an in-flight poll.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true
	d.tickCtx = ctx

	d.cron.Schedule(d.schedule, cron.FuncJob(func() {
		d.dispatcher.Tick(d.tickCtx)
	}))
	d.cron.Start()

	d.logger.Info("Job worker daemon started")
	return nil
}

// Stop stops scheduling ticks and shuts the pool down. Running tasks get grace
// to finish; after that, or as soon as ctx is canceled, they are forced.
// Stop is idempotent: later calls wait for and return the first call's result.
func (d *Daemon) Stop(ctx context.Context, grace time.Duration) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.started = true // a stopped daemon cannot be started
		d.mu.Unlock()

		d.stopErr = d.stop(ctx, grace)
	})
	return d.stopErr
}

func (d *Daemon) stop(ctx context.Context, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	d.logger.Info("Stopping job worker daemon", slog.Duration("grace", grace))

	cronDone := d.cron.Stop()
	select {
	case <-cronDone.Done():
	case <-ctx.Done():
		d.logger.Warn("Interrupted while waiting for the running tick")
	}

	d.pool.Shutdown()

	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := d.pool.AwaitTermination(graceCtx); err == nil {
		d.logger.Info("Job worker daemon stopped")
		return nil
	}

	if ctx.Err() != nil {
		d.logger.Warn("Shutdown interrupted, forcing running tasks to stop")
		d.pool.ShutdownNow()
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}

	d.logger.Warn("Tasks still running after grace period, forcing them to stop",
		slog.Duration("grace", grace),
	)
	d.pool.ShutdownNow()

	forceCtx, forceCancel := context.WithTimeout(context.Background(), grace)
	defer forceCancel()
	if err := d.pool.AwaitTermination(forceCtx); err != nil {
		d.logger.Error("Tasks did not stop after forced shutdown")
		return domain.ErrShutdownIncomplete
	}

	d.logger.Info("Job worker daemon stopped after forced shutdown")
	return nil
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
