// Package types defines error types
package types

import (
	"errors"
)

// Predefined errors
var (
	// ErrPoolClosed indicates a submission to a stopped or closed pool
	ErrPoolClosed = errors.New("pool is closed")

	// ErrPoolNotStarted indicates a submission before the pool was started
	ErrPoolNotStarted = errors.New("pool is not started")

	// ErrAlreadyRunning indicates a second Start on a running component
	ErrAlreadyRunning = errors.New("already running")

	// ErrNilTask indicates a nil task submission
	ErrNilTask = errors.New("task cannot be nil")

	// ErrUnknownStrategy indicates an unrecognized load-balancing strategy name
	ErrUnknownStrategy = errors.New("unknown selection strategy")

	// ErrStopTimeout indicates a stop did not complete within its grace period
	ErrStopTimeout = errors.New("stop timed out")
)
