package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// NodeState represents the execution state of a package step
type NodeState string

const (
	// NodeStatePending indicates the package is waiting for its dependencies
	NodeStatePending NodeState = "Pending"

	// NodeStateRunning indicates the package step is in progress
	NodeStateRunning NodeState = "Running"

	// NodeStateSucceeded indicates the package step completed successfully
	NodeStateSucceeded NodeState = "Succeeded"

	// NodeStateFailed indicates the last attempt failed. It is terminal once
	// the executor has recorded the outcome.
	NodeStateFailed NodeState = "Failed"

	// NodeStateSkipped indicates the package step was never attempted
	NodeStateSkipped NodeState = "Skipped"
)

// SkipReason explains why a package was never attempted
type SkipReason string

const (
	// SkipReasonDependencyFailed means a dependency ended in failure
	SkipReasonDependencyFailed SkipReason = "dependency-failed"

	// SkipReasonCancelled means cancellation was raised before the package was dequeued
	SkipReasonCancelled SkipReason = "cancelled"
)

// NodeStatus contains the execution status of a single package
type NodeStatus struct {
	// State is the current state of the package
	State NodeState

	// Err is the cause of the failure if State is NodeStateFailed
	Err error

	// SkipReason is set if State is NodeStateSkipped
	SkipReason SkipReason

	// SkippedBecause names the failed dependency for SkipReasonDependencyFailed
	SkippedBecause string

	// Attempts is the number of times the step entered Running
	Attempts int

	// Sequence orders terminal outcomes across the run, starting at 1
	Sequence int

	// StartTime is when the package first started running
	StartTime *time.Time

	// EndTime is when the outcome was recorded
	EndTime *time.Time
}

// Terminal reports whether the outcome has been decided
func (s NodeStatus) Terminal() bool {
	return s.Sequence > 0
}

// ExecutionState tracks the execution state of all packages in a run
type ExecutionState struct {
	mu sync.RWMutex

	// nodeStates maps package name to its current status
	nodeStates map[string]*NodeStatus

	// sequence is the last assigned outcome sequence number
	sequence int

	// startTime is when execution started
	startTime time.Time

	// endTime is when execution completed
	endTime *time.Time
}

// NewExecutionState creates a new execution state tracker
func NewExecutionState(names []string) *ExecutionState {
	states := make(map[string]*NodeStatus, len(names))
	for _, name := range names {
		states[name] = &NodeStatus{
			State: NodeStatePending,
		}
	}

	return &ExecutionState{
		nodeStates: states,
		startTime:  time.Now(),
	}
}

// GetState returns the current state of a package
func (es *ExecutionState) GetState(name string) (NodeState, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	status, found := es.nodeStates[name]
	if !found {
		return "", fmt.Errorf("package %s not found", name)
	}
	return status.State, nil
}

// GetStatus returns a copy of the full status of a package
func (es *ExecutionState) GetStatus(name string) (NodeStatus, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	status, found := es.nodeStates[name]
	if !found {
		return NodeStatus{}, fmt.Errorf("package %s not found", name)
	}
	return *status, nil
}

// SetState updates the state of a package with validation
func (es *ExecutionState) SetState(name string, newState NodeState) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, found := es.nodeStates[name]
	if !found {
		return fmt.Errorf("package %s not found", name)
	}

	if err := validateStateTransition(status.State, newState); err != nil {
		return fmt.Errorf("invalid state transition for package %s: %w", name, err)
	}

	status.State = newState

	if newState == NodeStateRunning {
		status.Attempts++
		if status.StartTime == nil {
			now := time.Now()
			status.StartTime = &now
		}
	}

	return nil
}

// SetError moves a running package to the failed state
func (es *ExecutionState) SetError(name string, err error) error {
	if err := es.SetState(name, NodeStateFailed); err != nil {
		return err
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	es.nodeStates[name].Err = err
	return nil
}

// finish records the terminal outcome of a package and assigns its sequence number
func (es *ExecutionState) finish(name string, state NodeState, err error) (int, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, found := es.nodeStates[name]
	if !found {
		return 0, fmt.Errorf("package %s not found", name)
	}
	if status.Terminal() {
		return 0, fmt.Errorf("package %s already has an outcome", name)
	}
	if status.State != state {
		if err := validateStateTransition(status.State, state); err != nil {
			return 0, fmt.Errorf("invalid state transition for package %s: %w", name, err)
		}
	}

	status.State = state
	if err != nil {
		status.Err = err
	}
	es.sequence++
	status.Sequence = es.sequence
	now := time.Now()
	status.EndTime = &now

	return status.Sequence, nil
}

// skip records that a pending package will never be attempted
func (es *ExecutionState) skip(name string, reason SkipReason, because string) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, found := es.nodeStates[name]
	if !found {
		return fmt.Errorf("package %s not found", name)
	}
	if err := validateStateTransition(status.State, NodeStateSkipped); err != nil {
		return fmt.Errorf("invalid state transition for package %s: %w", name, err)
	}

	status.State = NodeStateSkipped
	status.SkipReason = reason
	status.SkippedBecause = because
	es.sequence++
	status.Sequence = es.sequence
	now := time.Now()
	status.EndTime = &now

	return nil
}

// GetNodesInState returns all package names in a given state, sorted
func (es *ExecutionState) GetNodesInState(state NodeState) []string {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var names []string
	for name, status := range es.nodeStates {
		if status.State == state {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IsComplete returns true if every package has a recorded outcome
func (es *ExecutionState) IsComplete() bool {
	es.mu.RLock()
	defer es.mu.RUnlock()

	for _, status := range es.nodeStates {
		if !status.Terminal() {
			return false
		}
	}
	return true
}

// HasErrors returns true if any package failed
func (es *ExecutionState) HasErrors() bool {
	es.mu.RLock()
	defer es.mu.RUnlock()

	for _, status := range es.nodeStates {
		if status.State == NodeStateFailed {
			return true
		}
	}
	return false
}

// GetSummary returns a summary of execution state
func (es *ExecutionState) GetSummary() ExecutionSummary {
	es.mu.RLock()
	defer es.mu.RUnlock()

	summary := ExecutionSummary{
		Total:     len(es.nodeStates),
		StartTime: es.startTime,
		EndTime:   es.endTime,
	}

	for _, status := range es.nodeStates {
		switch status.State {
		case NodeStatePending:
			summary.Pending++
		case NodeStateRunning:
			summary.Running++
		case NodeStateSucceeded:
			summary.Succeeded++
		case NodeStateFailed:
			summary.Failed++
		case NodeStateSkipped:
			summary.Skipped++
		}
	}

	return summary
}

// MarkComplete marks the execution as complete
func (es *ExecutionState) MarkComplete() {
	es.mu.Lock()
	defer es.mu.Unlock()

	now := time.Now()
	es.endTime = &now
}

// ExecutionSummary provides a summary of execution state
type ExecutionSummary struct {
	Total     int
	Pending   int
	Running   int
	Succeeded int
	Failed    int
	Skipped   int
	StartTime time.Time
	EndTime   *time.Time
}

// validateStateTransition checks if a state transition is valid
func validateStateTransition(from, to NodeState) error {
	validTransitions := map[NodeState][]NodeState{
		NodeStatePending: {
			NodeStateRunning,
			NodeStateSkipped,
		},
		NodeStateRunning: {
			NodeStateSucceeded,
			NodeStateFailed,
		},
		NodeStateSucceeded: {
			// Terminal state - no transitions
		},
		NodeStateFailed: {
			NodeStateRunning, // Allow retry
		},
		NodeStateSkipped: {
			// Terminal state - no transitions
		},
	}

	allowed, found := validTransitions[from]
	if !found {
		return fmt.Errorf("unknown state: %s", from)
	}

	for _, allowedState := range allowed {
		if allowedState == to {
			return nil
		}
	}

	return fmt.Errorf("cannot transition from %s to %s", from, to)
}
