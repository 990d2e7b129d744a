// Package readiness decides when a just-published package version is visible
// on a registry's read path. It includes predicate implementations for
// package existence and version visibility, a Checker that polls an Index
// until every predicate holds, and a sparse HTTP index client.
package readiness
