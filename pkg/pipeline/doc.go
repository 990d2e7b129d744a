// Package pipeline composes the release flow as a handler chain: build the
// dependency graph, detect changed packages, plan versions, apply the plan
// and publish.
package pipeline
