package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

type countingTicker struct {
	ticks atomic.Int32
}

func (c *countingTicker) Tick(ctx context.Context) {
	c.ticks.Add(1)
}

// stuckTerminator never terminates and counts shutdown calls
type stuckTerminator struct {
	shutdowns    atomic.Int32
	shutdownNows atomic.Int32
}

func (s *stuckTerminator) Shutdown() { s.shutdowns.Add(1) }

func (s *stuckTerminator) ShutdownNow() bool {
	return s.shutdownNows.Add(1) == 1
}

func (s *stuckTerminator) AwaitTermination(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTestDaemon(t *testing.T, ticker Ticker, pool Terminator) *Daemon {
	t.Helper()
	d, err := NewDaemon(&DaemonConfig{
		Logger:       newTestLogger(),
		Dispatcher:   ticker,
		Pool:         pool,
		PollInterval: time.Hour,
	})
	require.NoError(t, err)
	return d
}

func TestNewDaemon_Validation(t *testing.T) {
	ticker := &countingTicker{}
	pool := &stuckTerminator{}

	tests := []struct {
		name string
		cfg  *DaemonConfig
	}{
		{name: "nil config", cfg: nil},
		{name: "missing dispatcher", cfg: &DaemonConfig{Logger: newTestLogger(), Pool: pool, PollInterval: time.Second}},
		{name: "missing pool", cfg: &DaemonConfig{Logger: newTestLogger(), Dispatcher: ticker, PollInterval: time.Second}},
		{name: "interval too short", cfg: &DaemonConfig{Logger: newTestLogger(), Dispatcher: ticker, Pool: pool, PollInterval: time.Millisecond}},
		{name: "bad schedule", cfg: &DaemonConfig{Logger: newTestLogger(), Dispatcher: ticker, Pool: pool, Schedule: "every now and then"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDaemon(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, d)
		})
	}

	d, err := NewDaemon(&DaemonConfig{Logger: newTestLogger(), Dispatcher: ticker, Pool: pool, Schedule: "@every 30s"})
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestDaemon_TicksOnSchedule(t *testing.T) {
	ticker := &countingTicker{}
	pool := newTestPool(t, 1)

	d, err := NewDaemon(&DaemonConfig{
		Logger:       newTestLogger(),
		Dispatcher:   ticker,
		Pool:         pool,
		PollInterval: time.Second,
	})
	require.NoError(t, err)

	require.NoError(t, d.Start(context.Background()))
	assert.ErrorIs(t, d.Start(context.Background()), ErrAlreadyStarted)

	require.Eventually(t, func() bool { return ticker.ticks.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, d.Stop(context.Background(), time.Second))
	ticks := ticker.ticks.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, ticks, ticker.ticks.Load(), "no ticks after stop")
}

// A task that finishes inside the grace period lets Stop return normally
func TestDaemon_Stop_WaitsForRunningTask(t *testing.T) {
	pool := newTestPool(t, 1)
	var finished atomic.Bool
	require.NoError(t, pool.Submit(func(ctx context.Context) {
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	}))

	d := newTestDaemon(t, &countingTicker{}, pool)
	require.NoError(t, d.Start(context.Background()))

	err := d.Stop(context.Background(), 5*time.Second)

	require.NoError(t, err)
	assert.True(t, finished.Load())
	assert.True(t, pool.Terminated())
}

func TestDaemon_Stop_ForcesAfterGrace(t *testing.T) {
	pool := newTestPool(t, 1)
	var canceled atomic.Bool
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
	}))
	<-started

	d := newTestDaemon(t, &countingTicker{}, pool)

	start := time.Now()
	err := d.Stop(context.Background(), 50*time.Millisecond)

	require.NoError(t, err)
	assert.True(t, canceled.Load())
	assert.True(t, pool.Terminated())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDaemon_Stop_IncompleteAfterForce(t *testing.T) {
	pool := newTestPool(t, 1)
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, pool.Submit(func(ctx context.Context) { <-release }))

	d := newTestDaemon(t, &countingTicker{}, pool)

	err := d.Stop(context.Background(), 30*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrShutdownIncomplete)
	assert.False(t, pool.Terminated())
}

// Canceling the stop context while waiting escalates to a forced shutdown
func TestDaemon_Stop_InterruptEscalates(t *testing.T) {
	pool := newTestPool(t, 1)
	var canceled atomic.Bool
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
	}))
	<-started

	d := newTestDaemon(t, &countingTicker{}, pool)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := d.Stop(ctx, time.Minute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
	require.NoError(t, pool.AwaitTermination(context.Background()))
	assert.True(t, canceled.Load())
}

func TestDaemon_Stop_Idempotent(t *testing.T) {
	pool := &stuckTerminator{}
	d := newTestDaemon(t, &countingTicker{}, pool)
	require.NoError(t, d.Start(context.Background()))

	first := d.Stop(context.Background(), 10*time.Millisecond)
	second := d.Stop(context.Background(), 10*time.Millisecond)

	assert.ErrorIs(t, first, domain.ErrShutdownIncomplete)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), pool.shutdowns.Load())
	assert.Equal(t, int32(1), pool.shutdownNows.Load())

	assert.ErrorIs(t, d.Start(context.Background()), ErrAlreadyStarted)
}

func TestDaemon_Stop_IdempotentWithRealPool(t *testing.T) {
	pool := newTestPool(t, 2)
	d := newTestDaemon(t, &countingTicker{}, pool)

	require.NoError(t, d.Stop(context.Background(), time.Second))
	require.NoError(t, d.Stop(context.Background(), time.Second))

	assert.True(t, pool.Terminated())
	assert.ErrorIs(t, pool.Submit(func(ctx context.Context) {}), domain.ErrPoolShutdown)
}
