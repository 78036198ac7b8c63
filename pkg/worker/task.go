// Package worker provides the worker pool implementation
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
)

// taskIDCounter is the global task ID counter
var taskIDCounter int64

// FuncTask is the basic Task implementation wrapping a callable and its
// arguments. A FuncTask is immutable once created.
type FuncTask struct {
	id   string
	fn   func(ctx context.Context, args ...any) error
	args []any
}

// NewFuncTask creates a task from a callable and its arguments
func NewFuncTask(fn func(ctx context.Context, args ...any) error, args ...any) *FuncTask {
	id := atomic.AddInt64(&taskIDCounter, 1)
	return &FuncTask{
		id:   fmt.Sprintf("task-%d", id),
		fn:   fn,
		args: args,
	}
}

// NewFuncTaskWithID creates a task with a caller-supplied ID
func NewFuncTaskWithID(id string, fn func(ctx context.Context, args ...any) error, args ...any) *FuncTask {
	return &FuncTask{
		id:   id,
		fn:   fn,
		args: args,
	}
}

// Execute executes the task
func (t *FuncTask) Execute(ctx context.Context) error {
	if t.fn == nil {
		return fmt.Errorf("task %s has no execution function", t.id)
	}
	return t.fn(ctx, t.args...)
}

// ID returns the task ID
func (t *FuncTask) ID() string {
	return t.id
}
