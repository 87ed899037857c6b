package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/metrics"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

// Task is a unit of work run by the pool. ctx is canceled when the pool is
// shut down forcibly.
type Task func(ctx context.Context)

// Pool is a fixed-size set of worker goroutines. It never queues more tasks
// than it has workers: Submit fails with domain.ErrPoolFull instead of blocking.
type Pool struct {
	logger *slog.Logger
	name   string
	size   int

	tasks    chan Task
	inflight atomic.Int64
	dropped  atomic.Int64

	// mu guards closed against a concurrent send on tasks
	mu     sync.RWMutex
	closed bool

	forced atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc

	wg   sync.WaitGroup
	done chan struct{}
}

// PoolConfig holds worker pool configuration
type PoolConfig struct {
	Logger *slog.Logger
	// Name prefixes worker goroutine names in logs
	Name string
	Size int
}

// NewPool starts Size worker goroutines
func NewPool(cfg *PoolConfig) (*Pool, error) {
	if cfg == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("%w: pool logger", domain.ErrNilDependency)
	}
	if cfg.Size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", cfg.Size)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger: cfg.Logger,
		name:   cfg.Name,
		size:   cfg.Size,
		tasks:  make(chan Task, cfg.Size),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.spawnWorkers()

	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	return p, nil
}

// spawnWorkers spawns one goroutine per worker slot
func (p *Pool) spawnWorkers() {
	p.logger.Info("Spawning worker pool",
		slog.Int("size", p.size),
		slog.String("pool", p.name),
	)

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
}

// workerLoop runs tasks until the task channel is closed and drained
func (p *Pool) workerLoop(workerNum int) {
	defer p.wg.Done()

	workerName := fmt.Sprintf("%s-%d", p.name, workerNum)
	p.logger.Debug("Worker goroutine started", slog.String("worker_name", workerName))

	for task := range p.tasks {
		if p.ctx.Err() != nil {
			// forced shutdown: tasks that never started are dropped
			p.dropped.Add(1)
			p.release()
			continue
		}
		p.runTask(workerName, task)
	}

	p.logger.Debug("Worker goroutine stopping - task channel closed", slog.String("worker_name", workerName))
}

func (p *Pool) runTask(workerName string, task Task) {
	defer p.release()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker task panicked",
				slog.String("worker_name", workerName),
				slog.Any("panic", r),
			)
		}
	}()

	task(p.ctx)
}

// Submit hands task to an idle worker. It never blocks.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("%w: task", domain.ErrNilDependency)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return domain.ErrPoolShutdown
	}
	if !p.reserve() {
		return domain.ErrPoolFull
	}

	// at most size tasks are in flight, so the buffered send cannot block
	p.tasks <- task
	return nil
}

func (p *Pool) reserve() bool {
	for {
		n := p.inflight.Load()
		if n >= int64(p.size) {
			return false
		}
		if p.inflight.CompareAndSwap(n, n+1) {
			metrics.ActiveTasks.Inc()
			return true
		}
	}
}

func (p *Pool) release() {
	p.inflight.Add(-1)
	metrics.ActiveTasks.Dec()
}

// ActiveCount returns the number of accepted tasks that have not finished
func (p *Pool) ActiveCount() int {
	return int(p.inflight.Load())
}

// Size returns the number of worker slots
func (p *Pool) Size() int {
	return p.size
}

// Shutdown stops accepting tasks. Tasks already accepted still run.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.tasks)

	p.logger.Info("Worker pool shutting down",
		slog.String("pool", p.name),
		slog.Int("active", p.ActiveCount()),
	)
}

// ShutdownNow stops accepting tasks, cancels the context of running tasks and
// drops tasks that have not started. It reports false when the pool had
// already been forced.
func (p *Pool) ShutdownNow() bool {
	if !p.forced.CompareAndSwap(false, true) {
		return false
	}

	p.cancel()
	p.Shutdown()

	p.logger.Warn("Worker pool forced to shut down",
		slog.String("pool", p.name),
		slog.Int("active", p.ActiveCount()),
	)
	return true
}

// AwaitTermination blocks until every worker goroutine has exited after a
// shutdown, or ctx is done.
func (p *Pool) AwaitTermination(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminated reports whether every worker goroutine has exited
func (p *Pool) Terminated() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Dropped returns how many accepted tasks were discarded by ShutdownNow
func (p *Pool) Dropped() int {
	return int(p.dropped.Load())
}
