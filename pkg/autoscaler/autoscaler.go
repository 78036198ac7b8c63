// Package autoscaler provides a background control loop that resizes a
// worker pool based on observed utilization.
package autoscaler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/qsim-labs/taskpool/pkg/types"
)

// Scaling step sizes. Growth is aggressive and shrink is conservative to
// damp oscillation under bursty load.
const (
	scaleUpStep   = 2
	scaleDownStep = 1
)

// Pool is the scalable pool surface the control loop drives
type Pool interface {
	// Stats returns a consistent snapshot of pool statistics
	Stats() types.PoolStats

	// ScaleUp adds up to n workers and returns the number added
	ScaleUp(n int) int

	// ScaleDown removes up to n idle workers and returns the number removed
	ScaleDown(n int) int
}

// Config contains configuration for an AutoScaler
type Config struct {
	// ScaleUpThreshold is the utilization above which the pool grows;
	// must be greater than ScaleDownThreshold
	ScaleUpThreshold float64

	// ScaleDownThreshold is the utilization below which the pool shrinks
	ScaleDownThreshold float64

	// CheckInterval is the sampling interval of the control loop
	CheckInterval time.Duration

	// StopTimeout bounds how long Stop waits for the loop to exit
	StopTimeout time.Duration

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// Logger receives scaling decisions and cycle errors (optional,
	// defaults to a disabled logger)
	Logger *zerolog.Logger
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.2,
		CheckInterval:      5 * time.Second,
		StopTimeout:        5 * time.Second,
		Clock:              types.NewRealClock(),
	}
}

// AutoScaler samples pool utilization once per CheckInterval and issues
// scale-up/scale-down commands. A cycle failure is logged and the loop
// continues; transient errors never terminate the control loop.
type AutoScaler struct {
	pool   Pool
	config *Config
	clock  types.Clock
	log    zerolog.Logger

	// mu serializes Start/Stop so a Stop can never observe a
	// half-initialized channel pair
	mu      sync.Mutex
	running int32
	quit    chan struct{}
	done    chan struct{}
}

// New creates an AutoScaler bound to exactly one pool
func New(pool Pool, config *Config) (*AutoScaler, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}

	if config.ScaleUpThreshold <= 0 || config.ScaleUpThreshold >= 1 {
		return nil, fmt.Errorf("scale-up threshold must be in (0, 1), got %v", config.ScaleUpThreshold)
	}
	if config.ScaleDownThreshold <= 0 || config.ScaleDownThreshold >= 1 {
		return nil, fmt.Errorf("scale-down threshold must be in (0, 1), got %v", config.ScaleDownThreshold)
	}
	if config.ScaleUpThreshold <= config.ScaleDownThreshold {
		return nil, fmt.Errorf("scale-up threshold (%v) must be greater than scale-down threshold (%v)",
			config.ScaleUpThreshold, config.ScaleDownThreshold)
	}
	if config.CheckInterval <= 0 {
		return nil, fmt.Errorf("check interval must be positive, got %v", config.CheckInterval)
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 5 * time.Second
	}
	if config.Clock == nil {
		config.Clock = types.NewRealClock()
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "autoscaler").Logger()
	}

	return &AutoScaler{
		pool:   pool,
		config: config,
		clock:  config.Clock,
		log:    logger,
	}, nil
}

// Start begins the control loop on a background goroutine. Starting a
// running AutoScaler fails with ErrAlreadyRunning.
func (s *AutoScaler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return types.ErrAlreadyRunning
	}

	quit := make(chan struct{})
	done := make(chan struct{})
	s.quit = quit
	s.done = done

	go s.loop(quit, done)

	s.log.Info().
		Float64("scale_up_threshold", s.config.ScaleUpThreshold).
		Float64("scale_down_threshold", s.config.ScaleDownThreshold).
		Dur("check_interval", s.config.CheckInterval).
		Msg("autoscaler started")

	return nil
}

// Stop signals the loop to exit and waits, bounded by StopTimeout. After
// the timeout Stop returns ErrStopTimeout regardless of loop state.
// Stopping a stopped AutoScaler is a no-op.
func (s *AutoScaler) Stop() error {
	s.mu.Lock()
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		s.mu.Unlock()
		return nil
	}

	close(s.quit)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.log.Info().Msg("autoscaler stopped")
		return nil
	case <-s.clock.After(s.config.StopTimeout):
		return fmt.Errorf("autoscaler: %w", types.ErrStopTimeout)
	}
}

// IsRunning checks if the control loop is running
func (s *AutoScaler) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

func (s *AutoScaler) loop(quit, done chan struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C():
			s.runCycle()
		}
	}
}

// runCycle performs one sampling cycle. Any failure is absorbed and logged
// so the loop stays self-healing.
func (s *AutoScaler) runCycle() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("scaling cycle failed")
		}
	}()

	stats := s.pool.Stats()

	// utilization is undefined for an empty pool
	if stats.TotalWorkers == 0 {
		s.log.Debug().Msg("empty pool, skipping cycle")
		return
	}

	utilization := stats.Utilization()

	switch {
	case utilization > s.config.ScaleUpThreshold:
		added := s.pool.ScaleUp(scaleUpStep)
		s.log.Info().
			Float64("utilization", utilization).
			Int("requested", scaleUpStep).
			Int("added", added).
			Msg("scaling up")
	case utilization < s.config.ScaleDownThreshold:
		removed := s.pool.ScaleDown(scaleDownStep)
		s.log.Info().
			Float64("utilization", utilization).
			Int("requested", scaleDownStep).
			Int("removed", removed).
			Msg("scaling down")
	}
}
