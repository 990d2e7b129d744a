// Package graph builds the inter-package dependency graph of a workspace and
// executes per-package steps over it in dependency order with bounded
// concurrency.
package graph
