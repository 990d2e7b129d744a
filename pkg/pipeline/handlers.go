package pipeline

import (
	"context"
	"fmt"

	"github.com/authzed/controller-idioms/handler"
	"github.com/go-logr/logr"

	"github.com/chazu/wharf/pkg/changes"
	"github.com/chazu/wharf/pkg/graph"
	"github.com/chazu/wharf/pkg/inventory"
	"github.com/chazu/wharf/pkg/metrics"
	"github.com/chazu/wharf/pkg/release"
	"github.com/chazu/wharf/pkg/version"
)

// Handler IDs for the release pipeline
const (
	BuildGraphID     handler.Key = "build-graph"
	DetectChangesID  handler.Key = "detect-changes"
	PlanVersionsID   handler.Key = "plan-versions"
	CheckInventoryID handler.Key = "check-inventory"
	ApplyPlanID      handler.Key = "apply-plan"
	PublishID        handler.Key = "publish"
)

// Handlers contains all handlers of the release pipeline
type Handlers struct {
	detector     *changes.Detector
	planner      *version.Planner
	policy       version.Policy
	inventory    *inventory.Tracker
	orchestrator *release.Orchestrator
}

// fail records err as the pipeline error and stops the chain
func fail(ctx context.Context, err error) {
	CtxResult.MustValue(ctx).Err = err
	CtxQueue.RequeueErr(ctx, err)
}

// BuildGraphHandler builds the dependency graph from the workspace
type BuildGraphHandler struct {
	next handler.Handler
}

func (h *BuildGraphHandler) Handle(ctx context.Context) {
	logger := logr.FromContextOrDiscard(ctx)
	ws := CtxWorkspace.MustValue(ctx)

	g, err := graph.Build(ws)
	if err != nil {
		fail(ctx, fmt.Errorf("failed to build dependency graph: %w", err))
		return
	}

	logger.Info("built dependency graph", "packages", g.Size(), "edges", g.EdgeCount())

	CtxResult.MustValue(ctx).Graph = g
	ctx = CtxGraph.WithValue(ctx, g)
	h.next.Handle(ctx)
}

// BuildGraph returns a handler builder for building the graph
func (r *Handlers) BuildGraph() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&BuildGraphHandler{next: handler.Handlers(next).MustOne()},
			BuildGraphID,
		)
	}
}

// DetectChangesHandler finds packages changed since their last release.
// Without a detector only forced packages are planned.
type DetectChangesHandler struct {
	detector *changes.Detector
	next     handler.Handler
}

func (h *DetectChangesHandler) Handle(ctx context.Context) {
	if h.detector == nil {
		h.next.Handle(ctx)
		return
	}

	g := CtxGraph.MustValue(ctx)
	cs, err := h.detector.Detect(ctx, g)
	if err != nil {
		fail(ctx, fmt.Errorf("failed to detect changes: %w", err))
		return
	}

	CtxResult.MustValue(ctx).Changes = cs
	ctx = CtxChangeSet.WithValue(ctx, cs)
	h.next.Handle(ctx)
}

// DetectChanges returns a handler builder for change detection
func (r *Handlers) DetectChanges() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&DetectChangesHandler{detector: r.detector, next: handler.Handlers(next).MustOne()},
			DetectChangesID,
		)
	}
}

// PlanVersionsHandler computes the version plan. An empty plan ends the
// pipeline successfully.
type PlanVersionsHandler struct {
	planner *version.Planner
	policy  version.Policy
	next    handler.Handler
}

func (h *PlanVersionsHandler) Handle(ctx context.Context) {
	logger := logr.FromContextOrDiscard(ctx)
	g := CtxGraph.MustValue(ctx)

	var changed []string
	if cs, ok := CtxChangeSet.Value(ctx); ok {
		changed = cs.Names()
	}

	plan, err := h.planner.Plan(ctx, g, changed, h.policy)
	if err != nil {
		fail(ctx, fmt.Errorf("failed to plan versions: %w", err))
		return
	}

	metrics.ResetPlanPackages()
	counts := make(map[version.Reason]int)
	for _, e := range plan.Entries() {
		counts[e.Reason]++
	}
	for reason, n := range counts {
		metrics.SetPlanPackages(string(reason), n)
	}

	CtxResult.MustValue(ctx).Plan = plan

	if plan.IsEmpty() {
		logger.Info("nothing to release")
		CtxQueue.Done(ctx)
		return
	}

	ctx = CtxPlan.WithValue(ctx, plan)
	h.next.Handle(ctx)
}

// PlanVersions returns a handler builder for version planning
func (r *Handlers) PlanVersions() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&PlanVersionsHandler{planner: r.planner, policy: r.policy, next: handler.Handlers(next).MustOne()},
			PlanVersionsID,
		)
	}
}

// CheckInventoryHandler compares the plan with the inventory of prior runs.
// It reports packages that left the workspace and notices a changed plan.
type CheckInventoryHandler struct {
	inventory *inventory.Tracker
	next      handler.Handler
}

func (h *CheckInventoryHandler) Handle(ctx context.Context) {
	if h.inventory == nil {
		h.next.Handle(ctx)
		return
	}

	logger := logr.FromContextOrDiscard(ctx)
	g := CtxGraph.MustValue(ctx)
	plan := CtxPlan.MustValue(ctx)

	current := make(map[string]bool, g.Size())
	for _, name := range g.Order() {
		current[name] = true
	}
	orphaned := h.inventory.FindOrphaned(current)
	for _, item := range orphaned {
		logger.Info("inventory item no longer in workspace", "id", item.ID)
	}
	CtxResult.MustValue(ctx).Orphaned = orphaned

	ids := make([]string, 0, plan.Len())
	for _, e := range plan.Entries() {
		ids = append(ids, inventory.ItemID(e.Name, e.New.String()))
	}
	hash := inventory.ComputeHash(ids)
	if previous := h.inventory.PlanHash(); previous != "" && previous != hash {
		logger.Info("plan differs from the previous run", "previous", previous, "current", hash)
	}
	h.inventory.SetPlanHash(hash)

	h.next.Handle(ctx)
}

// CheckInventory returns a handler builder for the inventory check
func (r *Handlers) CheckInventory() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&CheckInventoryHandler{inventory: r.inventory, next: handler.Handlers(next).MustOne()},
			CheckInventoryID,
		)
	}
}

// ApplyPlanHandler writes the planned versions into the graph
type ApplyPlanHandler struct {
	next handler.Handler
}

func (h *ApplyPlanHandler) Handle(ctx context.Context) {
	g := CtxGraph.MustValue(ctx)
	plan := CtxPlan.MustValue(ctx)

	if err := plan.Apply(g); err != nil {
		fail(ctx, fmt.Errorf("failed to apply plan: %w", err))
		return
	}
	h.next.Handle(ctx)
}

// ApplyPlan returns a handler builder for applying the plan
func (r *Handlers) ApplyPlan() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&ApplyPlanHandler{next: handler.Handlers(next).MustOne()},
			ApplyPlanID,
		)
	}
}

// PublishHandler publishes the planned versions. It ends the chain.
type PublishHandler struct {
	orchestrator *release.Orchestrator
}

func (h *PublishHandler) Handle(ctx context.Context) {
	if h.orchestrator == nil {
		return
	}

	g := CtxGraph.MustValue(ctx)
	plan := CtxPlan.MustValue(ctx)

	targets, err := release.TargetsFromPlan(g, plan)
	if err != nil {
		fail(ctx, err)
		return
	}

	report, err := h.orchestrator.Publish(ctx, g, targets)
	CtxResult.MustValue(ctx).Report = report
	if err != nil {
		fail(ctx, fmt.Errorf("publish interrupted: %w", err))
	}
}

// Publish returns a handler builder for publishing
func (r *Handlers) Publish() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&PublishHandler{orchestrator: r.orchestrator},
			PublishID,
		)
	}
}
