package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	"github.com/sourcegraph/conc/pool"
)

// StepFunc performs the work for a single package. A nil error marks the
// package succeeded; a non-nil error marks it failed.
//
// The context passed to a step is detached from cancellation: once a step
// has started it runs to completion.
type StepFunc func(ctx context.Context, step *Step) error

// Step identifies the package a StepFunc is working on and lets the step
// record intermediate failed attempts
type Step struct {
	// Name is the package name
	Name string

	state *ExecutionState
}

// Fail records that the current attempt failed. The step may call Retry to
// start another attempt.
func (s *Step) Fail(err error) error {
	return s.state.SetError(s.Name, err)
}

// Retry moves a failed package back to running
func (s *Step) Retry() error {
	return s.state.SetState(s.Name, NodeStateRunning)
}

// Attempts returns the number of attempts started so far
func (s *Step) Attempts() int {
	status, err := s.state.GetStatus(s.Name)
	if err != nil {
		return 0
	}
	return status.Attempts
}

// ExecutorConfig contains configuration for the executor
type ExecutorConfig struct {
	// MaxConcurrency is the maximum number of steps running at once
	// Default: 10
	MaxConcurrency int

	// Unordered ignores dependency edges and makes every package eligible
	// immediately
	Unordered bool

	// StopOnFailure stops dequeuing new packages after the first failure
	StopOnFailure bool
}

// DefaultExecutorConfig returns the default executor configuration
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency: 10,
	}
}

// Executor runs a step for every selected package in dependency order.
//
// A single coordinator goroutine owns the unmet-dependency counters and the
// ready queue. Workers never talk to each other: they report completion back
// to the coordinator, which decrements the counters of the dependents and
// pushes newly eligible packages onto the ready queue.
type Executor struct {
	config ExecutorConfig
}

// NewExecutor creates a new executor
func NewExecutor(config ExecutorConfig) *Executor {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultExecutorConfig().MaxConcurrency
	}
	return &Executor{config: config}
}

type stepResult struct {
	name string
	err  error
}

// Execute runs step for each named package. Dependencies outside names are
// treated as satisfied. A failed package's dependents within names are
// skipped, never attempted.
//
// Cancelling ctx stops further packages from being dequeued; packages not yet
// started are recorded as skipped and ctx.Err() is returned along with the
// state.
func (e *Executor) Execute(ctx context.Context, dag *DependencyGraph, names []string, step StepFunc) (*ExecutionState, error) {
	if dag == nil {
		return nil, fmt.Errorf("dependency graph cannot be nil")
	}
	if step == nil {
		return nil, fmt.Errorf("step cannot be nil")
	}

	members := make(map[string]bool, len(names))
	for _, name := range names {
		if !dag.Has(name) {
			return nil, fmt.Errorf("package %s not found", name)
		}
		members[name] = true
	}

	selected := make([]string, 0, len(members))
	for _, name := range dag.order {
		if members[name] {
			selected = append(selected, name)
		}
	}

	logger := logr.FromContextOrDiscard(ctx)
	state := NewExecutionState(selected)

	// Unmet dependency edges per package
	remaining := make(map[string]int, len(selected))
	var ready []string
	for _, name := range selected {
		if !e.config.Unordered {
			for _, dep := range dag.dependsOn[name] {
				if members[dep] {
					remaining[name]++
				}
			}
		}
		if remaining[name] == 0 {
			ready = append(ready, name)
		}
	}

	results := make(chan stepResult, len(selected))
	workers := pool.New().WithMaxGoroutines(e.config.MaxConcurrency)
	stepCtx := context.WithoutCancel(ctx)

	inflight := 0
	stopped := false
	cancelled := false
	done := ctx.Done()

	for len(ready) > 0 || inflight > 0 {
		if ctx.Err() != nil {
			cancelled = true
		}

		for len(ready) > 0 && inflight < e.config.MaxConcurrency && !stopped && !cancelled {
			name := ready[0]
			ready = ready[1:]

			if err := state.SetState(name, NodeStateRunning); err != nil {
				return state, err
			}
			inflight++

			s := &Step{Name: name, state: state}
			workers.Go(func() {
				results <- stepResult{name: name, err: step(stepCtx, s)}
			})
		}

		if inflight == 0 {
			break
		}

		select {
		case r := <-results:
			inflight--
			newlyReady, err := e.complete(logger, dag, state, members, remaining, r)
			if err != nil {
				workers.Wait()
				return state, err
			}
			ready = append(ready, newlyReady...)
			dag.sortByOrder(ready)
			if r.err != nil && e.config.StopOnFailure {
				stopped = true
			}
		case <-done:
			// Stop dequeuing; in-flight steps still run to completion
			cancelled = true
			done = nil
		}
	}

	workers.Wait()

	for _, name := range selected {
		status, _ := state.GetStatus(name)
		if status.Terminal() {
			continue
		}
		if err := state.skip(name, SkipReasonCancelled, ""); err != nil {
			return state, err
		}
	}

	state.MarkComplete()

	if cancelled {
		return state, ctx.Err()
	}
	return state, nil
}

// complete records a finished step and returns the dependents that became eligible
func (e *Executor) complete(
	logger logr.Logger,
	dag *DependencyGraph,
	state *ExecutionState,
	members map[string]bool,
	remaining map[string]int,
	r stepResult,
) ([]string, error) {
	if r.err != nil {
		if _, err := state.finish(r.name, NodeStateFailed, r.err); err != nil {
			return nil, err
		}
		logger.V(1).Info("package step failed", "package", r.name, "error", r.err.Error())

		if e.config.Unordered {
			return nil, nil
		}

		dependents, _ := dag.TransitiveDependents(r.name)
		for _, dependent := range dependents {
			if !members[dependent] {
				continue
			}
			if current, _ := state.GetState(dependent); current != NodeStatePending {
				continue
			}
			if err := state.skip(dependent, SkipReasonDependencyFailed, r.name); err != nil {
				return nil, err
			}
			logger.V(1).Info("skipping package", "package", dependent, "reason", SkipReasonDependencyFailed, "dependency", r.name)
		}
		return nil, nil
	}

	if _, err := state.finish(r.name, NodeStateSucceeded, nil); err != nil {
		return nil, err
	}

	if e.config.Unordered {
		return nil, nil
	}

	var newlyReady []string
	for _, dependent := range dag.dependents[r.name] {
		if !members[dependent] {
			continue
		}
		remaining[dependent]--
		if remaining[dependent] == 0 {
			if current, _ := state.GetState(dependent); current == NodeStatePending {
				newlyReady = append(newlyReady, dependent)
			}
		}
	}
	sort.Strings(newlyReady)
	return newlyReady, nil
}
