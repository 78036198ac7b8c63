package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qsim-labs/taskpool/pkg/types"
)

// WorkerState defines the state of a Worker
type WorkerState int32

const (
	// WorkerStateIdle represents a worker waiting for a task
	WorkerStateIdle WorkerState = iota
	// WorkerStateBusy represents a worker executing a task
	WorkerStateBusy
	// WorkerStateStopped represents a removed worker; the state is terminal
	WorkerStateStopped
)

// String returns the string representation of WorkerState
func (ws WorkerState) String() string {
	switch ws {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateBusy:
		return "busy"
	case WorkerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker represents a single execution slot backed by a goroutine.
// Valid transitions are Idle->Busy (claims a task), Busy->Idle (execution
// finished, success or failure) and Idle->Stopped (scale-down). A busy
// worker always completes its task before it can be removed.
type Worker struct {
	id       int
	state    int32 // atomic WorkerState
	taskChan chan types.Task
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	// statistics
	tasksCompleted int64
	lastActive     int64 // unix nanosecond timestamp

	// error handling
	errorHandler types.ErrorHandler

	// pool callback invoked after each Busy->Idle transition
	completion func(w *Worker, err error)

	// time operations
	clock types.Clock

	// synchronization for handler/callback setters
	mu sync.RWMutex
}

// NewWorker creates a new Worker with the default real clock
func NewWorker(id int) *Worker {
	return NewWorkerWithClock(id, types.NewRealClock())
}

// NewWorkerWithClock creates a new Worker with the specified clock
func NewWorkerWithClock(id int, clock types.Clock) *Worker {
	if clock == nil {
		clock = types.NewRealClock()
	}

	w := &Worker{
		id:       id,
		state:    int32(WorkerStateIdle),
		taskChan: make(chan types.Task, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		clock:    clock,
	}
	w.touch()
	return w
}

// ID returns the Worker ID. IDs are stable and never reused within a
// pool's lifetime, even after the worker is removed.
func (w *Worker) ID() int {
	return w.id
}

// State returns the current Worker state
func (w *Worker) State() WorkerState {
	return WorkerState(atomic.LoadInt32(&w.state))
}

// TasksCompleted returns the number of tasks this worker has executed
func (w *Worker) TasksCompleted() int64 {
	return atomic.LoadInt64(&w.tasksCompleted)
}

// LastActive returns the time of the worker's last state transition
func (w *Worker) LastActive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&w.lastActive))
}

// Idle reports whether the worker is currently idle
func (w *Worker) Idle() bool {
	return w.State() == WorkerStateIdle
}

// SetErrorHandler sets the handler invoked on task failure or panic
func (w *Worker) SetErrorHandler(handler types.ErrorHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errorHandler = handler
}

// setCompletion sets the pool bookkeeping callback
func (w *Worker) setCompletion(fn func(w *Worker, err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.completion = fn
}

// touch records a state transition timestamp
func (w *Worker) touch() {
	atomic.StoreInt64(&w.lastActive, w.clock.Now().UnixNano())
}

// claim attempts the Idle->Busy transition. The dispatcher calls this under
// the pool lock so scale-down can never race a reservation.
func (w *Worker) claim() bool {
	if !atomic.CompareAndSwapInt32(&w.state, int32(WorkerStateIdle), int32(WorkerStateBusy)) {
		return false
	}
	w.touch()
	return true
}

// retire attempts the Idle->Stopped transition used by scale-down
func (w *Worker) retire() bool {
	if !atomic.CompareAndSwapInt32(&w.state, int32(WorkerStateIdle), int32(WorkerStateStopped)) {
		return false
	}
	w.touch()
	return true
}

// assign hands a task to a claimed worker. The channel has capacity for the
// single in-flight task, so this never blocks after a successful claim.
func (w *Worker) assign(task types.Task) {
	w.taskChan <- task
}

// Run is the worker goroutine body. It exits when ctx is cancelled, the
// quit channel closes, or the task channel closes.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			w.markStopped()
			return
		case <-w.quit:
			w.markStopped()
			return
		case task, ok := <-w.taskChan:
			if !ok {
				w.markStopped()
				return
			}
			w.processTask(ctx, task)
		}
	}
}

// processTask executes a single task and performs the Busy->Idle transition.
// The completion counter increments regardless of the task outcome; the pool
// does not interpret task failures.
func (w *Worker) processTask(ctx context.Context, task types.Task) {
	err := w.executeTask(ctx, task)

	if err != nil {
		w.handleError(err)
	}

	atomic.AddInt64(&w.tasksCompleted, 1)
	atomic.StoreInt32(&w.state, int32(WorkerStateIdle))
	w.touch()

	w.mu.RLock()
	completion := w.completion
	w.mu.RUnlock()

	if completion != nil {
		completion(w, err)
	}
}

// executeTask executes a task with panic recovery
func (w *Worker) executeTask(ctx context.Context, task types.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			var buf [4096]byte
			n := runtime.Stack(buf[:], false)

			switch v := r.(type) {
			case error:
				err = fmt.Errorf("worker %d: task %s panicked: %w\n%s", w.id, task.ID(), v, buf[:n])
			default:
				err = fmt.Errorf("worker %d: task %s panicked: %v\n%s", w.id, task.ID(), v, buf[:n])
			}
		}
	}()

	return task.Execute(ctx)
}

// handleError forwards a task error to the configured handler
func (w *Worker) handleError(err error) {
	w.mu.RLock()
	handler := w.errorHandler
	w.mu.RUnlock()

	if handler != nil {
		_ = handler(err)
	}
}

// markStopped records the terminal state on goroutine exit
func (w *Worker) markStopped() {
	atomic.StoreInt32(&w.state, int32(WorkerStateStopped))
	w.touch()
}

// signalQuit closes the quit channel exactly once, so concurrent stop
// paths can never double-close it
func (w *Worker) signalQuit() {
	w.quitOnce.Do(func() {
		close(w.quit)
	})
}

// Stop signals the worker to exit and waits for its goroutine, bounded by
// the given grace period. Repeated and concurrent calls are safe.
func (w *Worker) Stop(grace time.Duration) error {
	w.signalQuit()

	select {
	case <-w.done:
		return nil
	case <-w.clock.After(grace):
		return fmt.Errorf("worker %d: %w", w.id, types.ErrStopTimeout)
	}
}

// Stats gets Worker statistics
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		ID:             w.id,
		State:          w.State(),
		TasksCompleted: w.TasksCompleted(),
		LastActive:     w.LastActive(),
	}
}

// WorkerStats defines Worker statistics
type WorkerStats struct {
	ID             int
	State          WorkerState
	TasksCompleted int64
	LastActive     time.Time
}
