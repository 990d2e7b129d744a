// Package execrun runs an external command once per workspace package, with
// the package directory as working directory.
//
// In ordered mode a package's command starts only after the commands of all
// its workspace dependencies succeeded; dependents of a failed package are
// skipped. Unordered mode runs every package as soon as a worker is free.
// Both modes share the scheduler in package graph.
package execrun
