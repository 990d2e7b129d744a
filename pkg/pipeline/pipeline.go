package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/authzed/controller-idioms/handler"
	"github.com/authzed/controller-idioms/queue"
	"github.com/go-logr/logr"

	"github.com/chazu/wharf/pkg/changes"
	"github.com/chazu/wharf/pkg/graph"
	"github.com/chazu/wharf/pkg/inventory"
	"github.com/chazu/wharf/pkg/release"
	"github.com/chazu/wharf/pkg/version"
	"github.com/chazu/wharf/pkg/workspace"
)

// Options configures a pipeline
type Options struct {
	// Detector finds changed packages. Optional; without it only forced
	// and explicitly versioned packages are planned.
	Detector *changes.Detector

	// Policy determines the new versions
	Policy version.Policy

	// Inventory is checked for orphaned items and the plan hash. Optional.
	Inventory *inventory.Tracker

	// Orchestrator publishes the plan. Optional; without it the pipeline
	// stops once the plan is applied.
	Orchestrator *release.Orchestrator
}

// Result holds what each stage produced. Fields of stages that did not run
// are nil.
type Result struct {
	Graph    *graph.DependencyGraph
	Changes  *changes.ChangeSet
	Plan     *version.Plan
	Orphaned []inventory.InventoryItem
	Report   *release.Report

	// Err is the error that stopped the pipeline
	Err error
}

// Pipeline runs the release flow for a workspace
type Pipeline struct {
	handlers *Handlers
	chain    handler.Handler
}

// New creates a release pipeline
func New(opts Options) *Pipeline {
	handlers := &Handlers{
		detector:     opts.Detector,
		planner:      version.NewPlanner(),
		policy:       opts.Policy,
		inventory:    opts.Inventory,
		orchestrator: opts.Orchestrator,
	}

	chain := handler.Chain(
		handlers.BuildGraph(),
		handlers.DetectChanges(),
		handlers.PlanVersions(),
		handlers.CheckInventory(),
		handlers.ApplyPlan(),
		handlers.Publish(),
	).Handler("release")

	return &Pipeline{handlers: handlers, chain: chain}
}

// Run executes the pipeline for ws. The returned result is never nil; it
// carries whatever the stages produced before an error.
func (p *Pipeline) Run(ctx context.Context, ws *workspace.Workspace) (*Result, error) {
	if ws == nil {
		return &Result{}, fmt.Errorf("workspace cannot be nil")
	}

	logger := logr.FromContextOrDiscard(ctx)
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := false
	queueOps := queue.NewOperations(
		func() { done = true },
		func(time.Duration) {},
		cancel,
	)

	result := &Result{}
	runCtx = CtxQueue.WithValue(runCtx, queueOps)
	runCtx = CtxWorkspace.WithValue(runCtx, ws)
	runCtx = CtxResult.WithValue(runCtx, result)

	p.chain.Handle(runCtx)

	if result.Err != nil {
		return result, result.Err
	}

	logger.V(1).Info("pipeline finished", "earlyExit", done, "duration", time.Since(start).String())
	return result, nil
}
