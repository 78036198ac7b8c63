package worker

import (
	"sync"

	"github.com/qsim-labs/taskpool/pkg/types"
)

// TaskQueue is an unbounded, ordered, thread-safe queue of pending tasks.
// Enqueue never blocks; order is strict FIFO.
type TaskQueue struct {
	mu    sync.Mutex
	tasks []types.Task
}

// NewTaskQueue creates an empty task queue
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Enqueue appends a task to the tail of the queue
func (q *TaskQueue) Enqueue(task types.Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
}

// Dequeue removes and returns the task at the head of the queue,
// or (nil, false) if the queue is empty
func (q *TaskQueue) Dequeue() (types.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}

	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]

	// Reclaim the backing array once it fully drains
	if len(q.tasks) == 0 {
		q.tasks = nil
	}

	return task, true
}

// Remove deletes the first occurrence of task from the queue, preserving
// the order of the remaining tasks. It reports whether the task was still
// pending.
func (q *TaskQueue) Remove(task types.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.tasks {
		if t == task {
			copy(q.tasks[i:], q.tasks[i+1:])
			q.tasks[len(q.tasks)-1] = nil
			q.tasks = q.tasks[:len(q.tasks)-1]
			if len(q.tasks) == 0 {
				q.tasks = nil
			}
			return true
		}
	}
	return false
}

// Len returns the number of pending tasks
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
