// Package types defines core interfaces and types for the taskpool library
package types

import (
	"context"
)

// Task defines a unit of work submitted for execution
type Task interface {
	// Execute executes the task
	Execute(ctx context.Context) error

	// ID returns the task ID (for tracking and logging)
	ID() string
}

// WorkerPool defines the worker pool interface
type WorkerPool interface {
	// Submit enqueues a task; it never blocks the caller
	Submit(task Task) error

	// Start starts the pool's dispatch loop and workers
	Start(ctx context.Context) error

	// Stop stops accepting work, drains queued tasks and stops workers
	Stop() error

	// Close closes the pool and releases resources
	Close() error

	// Size returns the current number of workers
	Size() int

	// Stats returns a consistent snapshot of pool statistics
	Stats() PoolStats
}

// ScalableWorkerPool extends WorkerPool with manual resize operations
type ScalableWorkerPool interface {
	WorkerPool

	// ScaleUp adds up to n workers, capped at the pool maximum;
	// returns the number actually added
	ScaleUp(n int) int

	// ScaleDown removes up to n idle workers, never dropping below the
	// pool minimum; returns the number actually removed
	ScaleDown(n int) int

	// MinWorkers returns the configured minimum pool size
	MinWorkers() int

	// MaxWorkers returns the configured maximum pool size
	MaxWorkers() int
}

// PoolStats is a point-in-time snapshot of pool state
type PoolStats struct {
	// TotalWorkers is the number of workers in the active set
	TotalWorkers int

	// IdleWorkers is the number of workers waiting for a task
	IdleWorkers int

	// BusyWorkers is the number of workers executing a task
	BusyWorkers int

	// QueueDepth is the number of tasks waiting for dispatch
	QueueDepth int

	// TasksCompleted is the cumulative number of task executions,
	// including those by workers that have since been removed
	TasksCompleted int64
}

// Utilization returns the busy/total ratio, or 0 for an empty pool
func (s PoolStats) Utilization() float64 {
	if s.TotalWorkers == 0 {
		return 0
	}
	return float64(s.BusyWorkers) / float64(s.TotalWorkers)
}

// ErrorHandler handles task execution errors reported by workers
type ErrorHandler func(error) error
