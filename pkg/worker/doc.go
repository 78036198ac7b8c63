/*
Package worker provides a scalable worker pool with an unbounded task queue
and pluggable worker selection.

# Overview

The pool owns a set of Worker execution slots and a dispatch loop that pairs
queued tasks with idle workers. Workers follow a three-state machine
(idle -> busy -> idle, idle -> stopped); a busy worker always finishes its
task before it can be removed.

# Core Components

## Pool

Scalable worker pool providing:
- Non-blocking task submission against an unbounded FIFO queue
- Manual resizing via ScaleUp/ScaleDown within [MinWorkers, MaxWorkers]
- Worker selection through a balancer.SelectionStrategy
- Consistent statistics snapshots for observability pollers
- Graceful shutdown: reject new work, drain the queue, stop workers

## Worker

Single execution slot responsible for:
- Task execution with panic recovery
- State management and per-worker statistics
- Lifecycle management via quit/done channels

## Task

The FuncTask implementation wraps a callable plus its arguments; tasks are
immutable once enqueued. Task failures are reported to the optional
ErrorHandler and never interpreted or retried by the pool.

# Concurrency

Collection mutations (scaling, reservation of a worker for dispatch) happen
under a single pool lock with short critical sections; no pool-wide lock is
held while a task executes. State transitions use atomic operations and the
code passes the Go race detector.
*/
package worker
