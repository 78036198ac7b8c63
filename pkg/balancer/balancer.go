// Package balancer provides worker selection strategies for task dispatch.
//
// A SelectionStrategy never owns or mutates worker state; it only picks one
// candidate from a set supplied by the caller. Strategies are chosen once at
// pool construction via New.
package balancer

import (
	"fmt"
	"sync"

	"github.com/qsim-labs/taskpool/pkg/types"
)

// Strategy names accepted by New
const (
	// RoundRobin rotates through idle candidates
	RoundRobin = "round_robin"
	// LeastLoaded picks the idle candidate with the fewest completed tasks
	LeastLoaded = "least_loaded"
)

// Candidate is the view of a worker a strategy selects against
type Candidate interface {
	// ID returns the worker's stable identity
	ID() int

	// TasksCompleted returns the worker's completed-task count
	TasksCompleted() int64

	// Idle reports whether the worker can accept a task
	Idle() bool
}

// SelectionStrategy picks one worker from a candidate set
type SelectionStrategy interface {
	// Select filters candidates to idle workers and returns one of them,
	// or nil if no idle candidate exists
	Select(candidates []Candidate) Candidate

	// Name returns the strategy name
	Name() string
}

// New returns the strategy registered under the given name
func New(name string) (SelectionStrategy, error) {
	switch name {
	case RoundRobin:
		return NewRoundRobin(), nil
	case LeastLoaded:
		return NewLeastLoaded(), nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownStrategy, name)
	}
}

// RoundRobinStrategy selects idle workers in rotation. Because the candidate
// set can change size between calls, fairness is approximate across resize
// events.
type RoundRobinStrategy struct {
	mu     sync.Mutex
	cursor int
}

// NewRoundRobin creates a round-robin strategy with its cursor at zero
func NewRoundRobin() *RoundRobinStrategy {
	return &RoundRobinStrategy{}
}

// Select implements SelectionStrategy
func (s *RoundRobinStrategy) Select(candidates []Candidate) Candidate {
	idle := filterIdle(candidates)
	if len(idle) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	picked := idle[s.cursor%len(idle)]
	s.cursor = (s.cursor + 1) % len(idle)
	return picked
}

// Name implements SelectionStrategy
func (s *RoundRobinStrategy) Name() string {
	return RoundRobin
}

// LeastLoadedStrategy selects the idle worker with the smallest completed
// task count, breaking ties by lowest worker ID for determinism.
type LeastLoadedStrategy struct{}

// NewLeastLoaded creates a least-loaded strategy
func NewLeastLoaded() *LeastLoadedStrategy {
	return &LeastLoadedStrategy{}
}

// Select implements SelectionStrategy
func (s *LeastLoadedStrategy) Select(candidates []Candidate) Candidate {
	idle := filterIdle(candidates)
	if len(idle) == 0 {
		return nil
	}

	best := idle[0]
	for _, c := range idle[1:] {
		completed := c.TasksCompleted()
		bestCompleted := best.TasksCompleted()
		if completed < bestCompleted || (completed == bestCompleted && c.ID() < best.ID()) {
			best = c
		}
	}
	return best
}

// Name implements SelectionStrategy
func (s *LeastLoadedStrategy) Name() string {
	return LeastLoaded
}

func filterIdle(candidates []Candidate) []Candidate {
	idle := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c != nil && c.Idle() {
			idle = append(idle, c)
		}
	}
	return idle
}
