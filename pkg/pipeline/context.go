package pipeline

import (
	"github.com/authzed/controller-idioms/queue"
	"github.com/authzed/controller-idioms/typedctx"

	"github.com/chazu/wharf/pkg/changes"
	"github.com/chazu/wharf/pkg/graph"
	"github.com/chazu/wharf/pkg/version"
	"github.com/chazu/wharf/pkg/workspace"
)

// Context keys for the release pipeline
var (
	// CtxQueue signals early exit and errors to the pipeline runner
	CtxQueue = queue.NewQueueOperationsCtx()

	// CtxWorkspace is the workspace being released
	CtxWorkspace = typedctx.NewKey[*workspace.Workspace]()

	// CtxGraph is the dependency graph built from the workspace
	CtxGraph = typedctx.NewKey[*graph.DependencyGraph]()

	// CtxChangeSet is the set of changed packages
	CtxChangeSet = typedctx.NewKey[*changes.ChangeSet]()

	// CtxPlan is the computed version plan
	CtxPlan = typedctx.NewKey[*version.Plan]()

	// CtxResult collects the outputs of every handler
	CtxResult = typedctx.NewKey[*Result]()
)
