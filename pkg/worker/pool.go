package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/qsim-labs/taskpool/pkg/balancer"
	"github.com/qsim-labs/taskpool/pkg/types"
)

// Pool lifecycle states
const (
	stateCreated int32 = iota
	stateRunning
	stateStopping
	stateClosed
)

// Config contains configuration for a Pool. The configuration surface is
// supplied at construction and never re-read dynamically.
type Config struct {
	// MinWorkers is the minimum (and initial) number of workers
	MinWorkers int

	// MaxWorkers is the maximum number of workers
	MaxWorkers int

	// Strategy selects the load-balancing strategy by name
	// (balancer.RoundRobin or balancer.LeastLoaded)
	Strategy string

	// StopTimeout bounds how long Stop waits for drain and worker exit
	StopTimeout time.Duration

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// Logger receives scale events and anomalies (optional, defaults to
	// a disabled logger)
	Logger *zerolog.Logger

	// ErrorHandler receives task execution errors (optional); the pool
	// itself never interprets or retries task outcomes
	ErrorHandler types.ErrorHandler
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		MinWorkers:  2,
		MaxWorkers:  8,
		Strategy:    balancer.RoundRobin,
		StopTimeout: 10 * time.Second,
		Clock:       types.NewRealClock(),
	}
}

var _ types.ScalableWorkerPool = (*Pool)(nil)

// Pool owns a set of Workers, an unbounded TaskQueue and a dispatch loop
// that pairs queued tasks with idle workers. The active worker set grows and
// shrinks only through ScaleUp and ScaleDown, and its size always stays
// within [MinWorkers, MaxWorkers].
type Pool struct {
	config   *Config
	strategy balancer.SelectionStrategy
	queue    *TaskQueue
	clock    types.Clock
	log      zerolog.Logger

	// state management
	state     int32
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// worker management
	mu           sync.RWMutex
	workers      []*Worker
	nextWorkerID int32

	// dispatch coordination
	wake         chan struct{}
	dispatchDone chan struct{}

	// cumulative counter, survives worker removal
	tasksCompleted int64
}

// New creates a new Pool with MinWorkers idle workers. The pool does not
// execute tasks until Start is called.
func New(config *Config) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if config.MinWorkers <= 0 {
		return nil, fmt.Errorf("min workers must be positive, got %d", config.MinWorkers)
	}
	if config.MaxWorkers < config.MinWorkers {
		return nil, fmt.Errorf("max workers (%d) must be >= min workers (%d)",
			config.MaxWorkers, config.MinWorkers)
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 10 * time.Second
	}
	if config.Clock == nil {
		config.Clock = types.NewRealClock()
	}
	if config.Strategy == "" {
		config.Strategy = balancer.RoundRobin
	}

	strategy, err := balancer.New(config.Strategy)
	if err != nil {
		return nil, err
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "pool").Logger()
	}

	pool := &Pool{
		config:       config,
		strategy:     strategy,
		queue:        NewTaskQueue(),
		clock:        config.Clock,
		log:          logger,
		wake:         make(chan struct{}, 1),
		dispatchDone: make(chan struct{}),
	}

	for i := 0; i < config.MinWorkers; i++ {
		pool.workers = append(pool.workers, pool.createWorker())
	}

	return pool, nil
}

// createWorker creates a new worker with a pool-unique ID. IDs are never
// reused while the pool exists.
func (p *Pool) createWorker() *Worker {
	id := atomic.AddInt32(&p.nextWorkerID, 1) - 1
	w := NewWorkerWithClock(int(id), p.clock)

	if p.config.ErrorHandler != nil {
		w.SetErrorHandler(p.config.ErrorHandler)
	}
	w.setCompletion(p.onTaskDone)

	return w
}

// Start starts the worker goroutines and the dispatch loop
func (p *Pool) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.state, stateCreated, stateRunning) {
		if atomic.LoadInt32(&p.state) == stateRunning {
			return types.ErrAlreadyRunning
		}
		return types.ErrPoolClosed
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	p.mu.Lock()
	for _, w := range p.workers {
		go w.Run(p.ctx)
	}
	p.mu.Unlock()

	go p.dispatch()

	p.log.Info().
		Int("min_workers", p.config.MinWorkers).
		Int("max_workers", p.config.MaxWorkers).
		Str("strategy", p.strategy.Name()).
		Msg("pool started")

	return nil
}

// Submit enqueues a task for execution. The queue is unbounded, so Submit
// never blocks; it fails only when the pool is not running.
func (p *Pool) Submit(task types.Task) error {
	switch atomic.LoadInt32(&p.state) {
	case stateCreated:
		return types.ErrPoolNotStarted
	case stateStopping, stateClosed:
		return types.ErrPoolClosed
	}

	if task == nil {
		return types.ErrNilTask
	}

	p.queue.Enqueue(task)
	p.signalWake()

	// Stop can flip the state and let the dispatcher drain out between the
	// check above and the enqueue. The state transition happens before the
	// dispatcher can observe it, so re-checking here and pulling the task
	// back closes the window; if the dispatcher already dequeued it, the
	// task runs and the submission stands.
	if atomic.LoadInt32(&p.state) >= stateStopping && p.queue.Remove(task) {
		return types.ErrPoolClosed
	}

	return nil
}

// signalWake nudges the dispatch loop without blocking
func (p *Pool) signalWake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// dispatch continuously pairs queued tasks with idle workers. It exits when
// the pool context is cancelled or, during Stop, once the queue is drained
// and no worker is busy.
func (p *Pool) dispatch() {
	defer close(p.dispatchDone)

	for {
		for p.dispatchOne() {
		}

		if atomic.LoadInt32(&p.state) == stateStopping && p.drained() {
			return
		}

		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		}
	}
}

// dispatchOne attempts to pair the head of the queue with an idle worker.
// The Idle->Busy reservation happens under the pool lock, so a concurrent
// ScaleDown can never remove the selected worker.
func (p *Pool) dispatchOne() bool {
	p.mu.Lock()

	if p.queue.Len() == 0 {
		p.mu.Unlock()
		return false
	}

	w := p.selectIdleLocked()
	if w == nil || !w.claim() {
		p.mu.Unlock()
		return false
	}

	task, ok := p.queue.Dequeue()
	p.mu.Unlock()

	if !ok {
		// only the dispatcher dequeues, so this cannot happen; release
		// the reservation rather than stranding the worker
		atomic.StoreInt32(&w.state, int32(WorkerStateIdle))
		return false
	}

	w.assign(task)

	p.log.Debug().
		Int("worker_id", w.ID()).
		Str("task_id", task.ID()).
		Msg("task dispatched")

	return true
}

// selectIdleLocked picks an idle worker, consulting the balancer only when
// more than one idle candidate exists. Caller must hold p.mu.
func (p *Pool) selectIdleLocked() *Worker {
	var sole *Worker
	candidates := make([]balancer.Candidate, 0, len(p.workers))
	for _, w := range p.workers {
		if w.Idle() {
			sole = w
			candidates = append(candidates, w)
		}
	}

	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return sole
	}

	picked := p.strategy.Select(candidates)
	if picked == nil {
		return nil
	}
	return picked.(*Worker)
}

// onTaskDone is the per-worker completion callback
func (p *Pool) onTaskDone(w *Worker, err error) {
	atomic.AddInt64(&p.tasksCompleted, 1)

	if err != nil {
		p.log.Warn().
			Int("worker_id", w.ID()).
			Err(err).
			Msg("task execution failed")
	}

	p.signalWake()
}

// drained reports whether no queued or in-flight work remains
func (p *Pool) drained() bool {
	if p.queue.Len() != 0 {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, w := range p.workers {
		if w.State() == WorkerStateBusy {
			return false
		}
	}
	return true
}

// ScaleUp adds up to n idle workers, capped so the pool never exceeds
// MaxWorkers. It returns the number actually added, which may be zero; the
// caller must check the returned count rather than assume full compliance.
func (p *Pool) ScaleUp(n int) int {
	if n <= 0 {
		return 0
	}
	if atomic.LoadInt32(&p.state) >= stateStopping {
		return 0
	}

	p.mu.Lock()

	room := p.config.MaxWorkers - len(p.workers)
	if room < n {
		n = room
	}

	added := make([]*Worker, 0, n)
	for i := 0; i < n; i++ {
		w := p.createWorker()
		p.workers = append(p.workers, w)
		added = append(added, w)
	}
	size := len(p.workers)

	running := atomic.LoadInt32(&p.state) == stateRunning
	startCtx := p.ctx

	p.mu.Unlock()

	if running {
		for _, w := range added {
			go w.Run(startCtx)
		}
	}

	if len(added) > 0 {
		p.log.Info().
			Int("added", len(added)).
			Int("pool_size", size).
			Msg("scaled up")
		p.signalWake()
	}

	return len(added)
}

// ScaleDown removes up to n idle workers, capped so the pool never drops
// below MinWorkers. Busy workers are never removed; if fewer idle workers
// exist than requested, only those are removed. Returns the number removed.
func (p *Pool) ScaleDown(n int) int {
	if n <= 0 {
		return 0
	}

	p.mu.Lock()

	victims := make([]*Worker, 0, n)
	for i := len(p.workers) - 1; i >= 0; i-- {
		if len(victims) == n || len(p.workers)-len(victims) <= p.config.MinWorkers {
			break
		}
		if p.workers[i].retire() {
			victims = append(victims, p.workers[i])
		}
	}

	if len(victims) > 0 {
		kept := make([]*Worker, 0, len(p.workers)-len(victims))
		for _, w := range p.workers {
			if !containsWorker(victims, w) {
				kept = append(kept, w)
			}
		}
		p.workers = kept
	}
	size := len(p.workers)
	running := atomic.LoadInt32(&p.state) == stateRunning

	p.mu.Unlock()

	for _, w := range victims {
		if !running {
			// goroutine was never started, nothing to wait for
			w.signalQuit()
			continue
		}
		go func(w *Worker) {
			if err := w.Stop(p.config.StopTimeout); err != nil {
				p.log.Warn().Int("worker_id", w.ID()).Err(err).Msg("worker stop timed out")
			}
		}(w)
	}

	if len(victims) > 0 {
		p.log.Info().
			Int("removed", len(victims)).
			Int("pool_size", size).
			Msg("scaled down")
	}

	return len(victims)
}

func containsWorker(ws []*Worker, w *Worker) bool {
	for _, v := range ws {
		if v == w {
			return true
		}
	}
	return false
}

// GetIdleWorker returns one idle worker, or nil if all workers are busy or
// stopped. The worker is not reserved; dispatch may claim it concurrently.
func (p *Pool) GetIdleWorker() *Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, w := range p.workers {
		if w.Idle() {
			return w
		}
	}
	return nil
}

// Stats returns a snapshot of pool statistics computed from a single pass
// over the worker set
func (p *Pool) Stats() types.PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := types.PoolStats{
		TotalWorkers:   len(p.workers),
		QueueDepth:     p.queue.Len(),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
	}

	for _, w := range p.workers {
		switch w.State() {
		case WorkerStateBusy:
			stats.BusyWorkers++
		case WorkerStateIdle:
			stats.IdleWorkers++
		}
	}

	return stats
}

// WorkerStats returns per-worker statistics for the active set
func (p *Pool) WorkerStats() []WorkerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		stats[i] = w.Stats()
	}
	return stats
}

// Size returns the current number of workers
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// MinWorkers returns the configured minimum pool size
func (p *Pool) MinWorkers() int {
	return p.config.MinWorkers
}

// MaxWorkers returns the configured maximum pool size
func (p *Pool) MaxWorkers() int {
	return p.config.MaxWorkers
}

// QueueDepth returns the number of tasks waiting for dispatch
func (p *Pool) QueueDepth() int {
	return p.queue.Len()
}

// IsRunning checks if the pool is running
func (p *Pool) IsRunning() bool {
	return atomic.LoadInt32(&p.state) == stateRunning
}

// Stop stops accepting new tasks, waits for queued tasks to drain and for
// busy workers to finish, then stops all workers. The wait is bounded by
// StopTimeout; on timeout Stop returns ErrStopTimeout but the pool still
// refuses new work. Stopping an unstarted or already stopped pool is a no-op.
func (p *Pool) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.state, stateRunning, stateStopping) {
		if atomic.LoadInt32(&p.state) == stateClosed {
			return types.ErrPoolClosed
		}
		return nil
	}

	p.log.Info().Int("queue_depth", p.queue.Len()).Msg("pool stopping, draining queue")

	p.signalWake()

	select {
	case <-p.dispatchDone:
	case <-p.clock.After(p.config.StopTimeout):
		p.cancel()
		return fmt.Errorf("draining queue: %w", types.ErrStopTimeout)
	}

	p.cancel()

	p.mu.RLock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if err := w.Stop(p.config.StopTimeout); err != nil {
				p.log.Warn().Int("worker_id", w.ID()).Err(err).Msg("worker stop timed out")
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Int64("tasks_completed", atomic.LoadInt64(&p.tasksCompleted)).Msg("pool stopped")
		return nil
	case <-p.clock.After(p.config.StopTimeout):
		return fmt.Errorf("stopping workers: %w", types.ErrStopTimeout)
	}
}

// Close stops the pool and releases resources. Close is idempotent.
func (p *Pool) Close() error {
	var closeErr error

	p.closeOnce.Do(func() {
		closeErr = p.Stop()
		atomic.StoreInt32(&p.state, stateClosed)
	})

	return closeErr
}
