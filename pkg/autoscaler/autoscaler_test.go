package autoscaler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qsim-labs/taskpool/internal/testutils"
	"github.com/qsim-labs/taskpool/pkg/balancer"
	"github.com/qsim-labs/taskpool/pkg/types"
	"github.com/qsim-labs/taskpool/pkg/worker"
)

// fakePool records scaling calls issued by the control loop
type fakePool struct {
	mu             sync.Mutex
	stats          types.PoolStats
	scaleUpCalls   []int
	scaleDownCalls []int
	panicOnStats   bool
}

func (f *fakePool) Stats() types.PoolStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnStats {
		panic("stats unavailable")
	}
	return f.stats
}

func (f *fakePool) ScaleUp(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scaleUpCalls = append(f.scaleUpCalls, n)
	return n
}

func (f *fakePool) ScaleDown(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scaleDownCalls = append(f.scaleDownCalls, n)
	return n
}

func (f *fakePool) upCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.scaleUpCalls...)
}

func (f *fakePool) downCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.scaleDownCalls...)
}

func testConfig() *Config {
	return &Config{
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.2,
		CheckInterval:      time.Second,
		StopTimeout:        2 * time.Second,
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		pool        Pool
		config      *Config
		expectError bool
	}{
		{
			name:   "nil config should use default",
			pool:   &fakePool{},
			config: nil,
		},
		{
			name:   "valid config",
			pool:   &fakePool{},
			config: testConfig(),
		},
		{
			name:        "nil pool should error",
			pool:        nil,
			config:      testConfig(),
			expectError: true,
		},
		{
			name: "scale-up threshold out of range should error",
			pool: &fakePool{},
			config: &Config{
				ScaleUpThreshold:   1.5,
				ScaleDownThreshold: 0.2,
				CheckInterval:      time.Second,
			},
			expectError: true,
		},
		{
			name: "scale-down threshold out of range should error",
			pool: &fakePool{},
			config: &Config{
				ScaleUpThreshold:   0.8,
				ScaleDownThreshold: 0,
				CheckInterval:      time.Second,
			},
			expectError: true,
		},
		{
			name: "inverted thresholds should error",
			pool: &fakePool{},
			config: &Config{
				ScaleUpThreshold:   0.2,
				ScaleDownThreshold: 0.8,
				CheckInterval:      time.Second,
			},
			expectError: true,
		},
		{
			name: "non-positive interval should error",
			pool: &fakePool{},
			config: &Config{
				ScaleUpThreshold:   0.8,
				ScaleDownThreshold: 0.2,
				CheckInterval:      0,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.pool, tt.config)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, s)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, s)
			}
		})
	}
}

func TestAutoScaler_ScalesUpUnderHighUtilization(t *testing.T) {
	pool := &fakePool{stats: types.PoolStats{TotalWorkers: 4, BusyWorkers: 4}}
	s, err := New(pool, testConfig())
	require.NoError(t, err)

	s.runCycle()

	assert.Equal(t, []int{2}, pool.upCalls())
	assert.Empty(t, pool.downCalls())
}

func TestAutoScaler_ScalesDownUnderLowUtilization(t *testing.T) {
	pool := &fakePool{stats: types.PoolStats{TotalWorkers: 4, BusyWorkers: 0}}
	s, err := New(pool, testConfig())
	require.NoError(t, err)

	s.runCycle()

	assert.Empty(t, pool.upCalls())
	assert.Equal(t, []int{1}, pool.downCalls())
}

func TestAutoScaler_NoActionInsideBand(t *testing.T) {
	pool := &fakePool{stats: types.PoolStats{TotalWorkers: 4, BusyWorkers: 2}}
	s, err := New(pool, testConfig())
	require.NoError(t, err)

	s.runCycle()

	assert.Empty(t, pool.upCalls())
	assert.Empty(t, pool.downCalls())
}

func TestAutoScaler_ThresholdIsExclusive(t *testing.T) {
	// utilization exactly at the threshold takes no action
	pool := &fakePool{stats: types.PoolStats{TotalWorkers: 5, BusyWorkers: 4}}
	s, err := New(pool, testConfig())
	require.NoError(t, err)

	s.runCycle()

	assert.Empty(t, pool.upCalls())
	assert.Empty(t, pool.downCalls())
}

func TestAutoScaler_ZeroWorkerGuard(t *testing.T) {
	pool := &fakePool{stats: types.PoolStats{TotalWorkers: 0, BusyWorkers: 0}}
	s, err := New(pool, testConfig())
	require.NoError(t, err)

	assert.NotPanics(t, func() { s.runCycle() })
	assert.Empty(t, pool.upCalls())
	assert.Empty(t, pool.downCalls())
}

func TestAutoScaler_CycleFailureIsAbsorbed(t *testing.T) {
	pool := &fakePool{panicOnStats: true}
	s, err := New(pool, testConfig())
	require.NoError(t, err)

	// a failing cycle must never terminate the control loop
	assert.NotPanics(t, func() { s.runCycle() })
	assert.NotPanics(t, func() { s.runCycle() })
}

func TestAutoScaler_StartTwice(t *testing.T) {
	pool := &fakePool{stats: types.PoolStats{TotalWorkers: 2, BusyWorkers: 1}}
	s, err := New(pool, testConfig())
	require.NoError(t, err)

	require.NoError(t, s.Start())
	defer func() { _ = s.Stop() }()

	assert.ErrorIs(t, s.Start(), types.ErrAlreadyRunning)
}

func TestAutoScaler_StopWhenNotRunning(t *testing.T) {
	pool := &fakePool{}
	s, err := New(pool, testConfig())
	require.NoError(t, err)

	assert.NoError(t, s.Stop())
}

func TestAutoScaler_StartStopRestart(t *testing.T) {
	pool := &fakePool{stats: types.PoolStats{TotalWorkers: 2, BusyWorkers: 1}}
	s, err := New(pool, testConfig())
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start())
	assert.NoError(t, s.Stop())
}

func TestAutoScaler_ConcurrentStartStop(t *testing.T) {
	pool := &fakePool{stats: types.PoolStats{TotalWorkers: 2, BusyWorkers: 1}}
	s, err := New(pool, testConfig())
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_ = s.Start()
		}()
		go func() {
			defer wg.Done()
			<-start
			_ = s.Stop()
		}()
		close(start)
		wg.Wait()

		// whichever interleaving won, a final Stop leaves the scaler idle
		require.NoError(t, s.Stop())
		assert.False(t, s.IsRunning())
	}
}

func TestAutoScaler_LoopDrivenByClock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mock := testutils.NewMockClock(t)
	clk := testutils.NewClockWrapper(mock)

	pool := &fakePool{stats: types.PoolStats{TotalWorkers: 4, BusyWorkers: 4}}

	cfg := testConfig()
	cfg.Clock = clk
	s, err := New(pool, cfg)
	require.NoError(t, err)

	trap := mock.Trap().NewTicker()
	defer trap.Close()

	require.NoError(t, s.Start())
	defer func() { _ = s.Stop() }()

	// wait for the loop to create its ticker before advancing time
	call := trap.MustWait(ctx)
	call.MustRelease(ctx)

	mock.Advance(cfg.CheckInterval).MustWait(ctx)

	assert.Eventually(t, func() bool {
		return len(pool.upCalls()) == 1
	}, 2*time.Second, time.Millisecond)

	mock.Advance(cfg.CheckInterval).MustWait(ctx)

	assert.Eventually(t, func() bool {
		return len(pool.upCalls()) == 2
	}, 2*time.Second, time.Millisecond)
}

// Integration scenarios against a real pool.

func TestAutoScaler_GrowsRealPoolUnderLoad(t *testing.T) {
	pool, err := worker.New(&worker.Config{
		MinWorkers: 4,
		MaxWorkers: 8,
		Strategy:   balancer.RoundRobin,
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() { _ = pool.Close() })

	release := make(chan struct{})
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Submit(worker.NewFuncTask(func(ctx context.Context, args ...any) error {
			<-release
			return nil
		})))
	}

	require.Eventually(t, func() bool {
		return pool.Stats().BusyWorkers == 4
	}, 2*time.Second, 5*time.Millisecond)

	s, err := New(pool, testConfig())
	require.NoError(t, err)

	// utilization 1.0 > 0.8: one cycle grows the pool by two, still <= max
	s.runCycle()

	assert.Equal(t, 6, pool.Size())
	assert.LessOrEqual(t, pool.Size(), pool.MaxWorkers())

	close(release)
}

func TestAutoScaler_ShrinksIdleRealPool(t *testing.T) {
	pool, err := worker.New(&worker.Config{
		MinWorkers: 2,
		MaxWorkers: 8,
		Strategy:   balancer.RoundRobin,
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() { _ = pool.Close() })

	pool.ScaleUp(2)
	require.Equal(t, 4, pool.Size())

	s, err := New(pool, testConfig())
	require.NoError(t, err)

	// utilization 0.0 < 0.2: one cycle removes a single worker
	s.runCycle()

	assert.Equal(t, 3, pool.Size())
	stats := pool.Stats()
	assert.Equal(t, 3, stats.IdleWorkers)
	assert.Equal(t, 0, stats.BusyWorkers)
}
