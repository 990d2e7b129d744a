package graph

import (
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"

	"github.com/chazu/wharf/pkg/workspace"
)

// DependencyGraph is the depends-on graph of a workspace, keyed by package name.
// It is built once per invocation; only package versions change afterwards.
type DependencyGraph struct {
	// graph is the underlying graph structure from dominikbraun/graph.
	// Edges point from a dependency to its dependent.
	graph graph.Graph[string, string]

	// packages provides lookup of packages by name
	packages map[string]*workspace.Package

	// dependsOn holds the sorted in-workspace dependencies of each package
	dependsOn map[string][]string

	// dependents is the transpose of dependsOn
	dependents map[string][]string

	// order contains the topologically sorted package names
	order []string

	// index maps a package name to its position in order
	index map[string]int
}

// Build converts the workspace package list into a DependencyGraph.
// Dependencies on packages outside the workspace are not edges. A depends-on
// cycle is reported as a *CyclicDependencyError.
func Build(ws *workspace.Workspace) (*DependencyGraph, error) {
	if ws == nil {
		return nil, fmt.Errorf("workspace cannot be nil")
	}

	packages := make(map[string]*workspace.Package, len(ws.Packages))
	for i := range ws.Packages {
		pkg := ws.Packages[i]
		pkg.Dependencies = append([]workspace.Dependency(nil), pkg.Dependencies...)
		if _, dup := packages[pkg.Name]; dup {
			return nil, fmt.Errorf("duplicate package name: %s", pkg.Name)
		}
		packages[pkg.Name] = &pkg
	}

	return build(packages)
}

func build(packages map[string]*workspace.Package) (*DependencyGraph, error) {
	names := make([]string, 0, len(packages))
	for name := range packages {
		names = append(names, name)
	}
	sort.Strings(names)

	dependsOn := make(map[string][]string, len(packages))
	dependents := make(map[string][]string, len(packages))
	for _, name := range names {
		seen := make(map[string]bool)
		for _, dep := range packages[name].Dependencies {
			if _, inWorkspace := packages[dep.Name]; !inWorkspace || seen[dep.Name] {
				continue
			}
			seen[dep.Name] = true
			dependsOn[name] = append(dependsOn[name], dep.Name)
			dependents[dep.Name] = append(dependents[dep.Name], name)
		}
		sort.Strings(dependsOn[name])
	}
	for name := range dependents {
		sort.Strings(dependents[name])
	}

	if cycle := findCycle(names, dependsOn); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}

	dg := graph.New(graph.StringHash, graph.Directed(), graph.Acyclic())
	for _, name := range names {
		if err := dg.AddVertex(name); err != nil {
			return nil, fmt.Errorf("failed to add vertex %s: %w", name, err)
		}
	}

	// A dependency must be released before its dependent, so the edge runs
	// dep -> name.
	for _, name := range names {
		for _, dep := range dependsOn[name] {
			if err := dg.AddEdge(dep, name); err != nil {
				return nil, fmt.Errorf("failed to add edge %s -> %s: %w", dep, name, err)
			}
		}
	}

	order, err := graph.StableTopologicalSort(dg, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, fmt.Errorf("failed to compute topological order: %w", err)
	}

	index := make(map[string]int, len(order))
	for i, name := range order {
		index[name] = i
	}

	return &DependencyGraph{
		graph:      dg,
		packages:   packages,
		dependsOn:  dependsOn,
		dependents: dependents,
		order:      order,
		index:      index,
	}, nil
}

// findCycle runs a three-colour depth-first search and returns the first
// cycle found, or nil
func findCycle(names []string, dependsOn map[string][]string) []string {
	const (
		white = iota
		grey
		black
	)

	color := make(map[string]int, len(names))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = grey
		stack = append(stack, name)

		for _, dep := range dependsOn[name] {
			switch color[dep] {
			case grey:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == dep {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, name := range names {
		if color[name] == white {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Package retrieves a package by name
func (d *DependencyGraph) Package(name string) (*workspace.Package, bool) {
	pkg, found := d.packages[name]
	return pkg, found
}

// Has reports whether name is a workspace package
func (d *DependencyGraph) Has(name string) bool {
	_, found := d.packages[name]
	return found
}

// Order returns the topologically sorted package names.
// Packages earlier in the list never depend on packages later in the list.
// Roots come first in name order; a package is queued once its last
// dependency is placed, behind packages that were already queued, and
// packages freed by the same dependency are queued in name order.
func (d *DependencyGraph) Order() []string {
	return append([]string(nil), d.order...)
}

// Position returns the index of name in Order, or -1
func (d *DependencyGraph) Position(name string) int {
	if i, found := d.index[name]; found {
		return i
	}
	return -1
}

// Dependencies returns the in-workspace packages that name depends on
func (d *DependencyGraph) Dependencies(name string) ([]string, error) {
	if !d.Has(name) {
		return nil, fmt.Errorf("package %s not found", name)
	}
	return d.dependsOn[name], nil
}

// Dependents returns the in-workspace packages that depend on name
func (d *DependencyGraph) Dependents(name string) ([]string, error) {
	if !d.Has(name) {
		return nil, fmt.Errorf("package %s not found", name)
	}
	return d.dependents[name], nil
}

// TransitiveDependents returns every package that depends on name directly
// or transitively, in topological order
func (d *DependencyGraph) TransitiveDependents(name string) ([]string, error) {
	if !d.Has(name) {
		return nil, fmt.Errorf("package %s not found", name)
	}

	visited := map[string]bool{name: true}
	queue := []string{name}
	var result []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range d.dependents[current] {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			result = append(result, dependent)
			queue = append(queue, dependent)
		}
	}

	d.sortByOrder(result)
	return result, nil
}

// Size returns the number of packages in the graph
func (d *DependencyGraph) Size() int {
	return len(d.packages)
}

// EdgeCount returns the number of depends-on edges
func (d *DependencyGraph) EdgeCount() int {
	n, err := d.graph.Size()
	if err != nil {
		return 0
	}
	return n
}

// Roots returns packages that have no in-workspace dependencies
func (d *DependencyGraph) Roots() []string {
	var roots []string
	for _, name := range d.order {
		if len(d.dependsOn[name]) == 0 {
			roots = append(roots, name)
		}
	}
	return roots
}

// Leaves returns packages that no other package depends on
func (d *DependencyGraph) Leaves() []string {
	var leaves []string
	for _, name := range d.order {
		if len(d.dependents[name]) == 0 {
			leaves = append(leaves, name)
		}
	}
	return leaves
}

// Subgraph restricts the graph to the named packages. Edges to packages
// outside the set are dropped.
func (d *DependencyGraph) Subgraph(names []string) (*DependencyGraph, error) {
	packages := make(map[string]*workspace.Package, len(names))
	for _, name := range names {
		pkg, found := d.packages[name]
		if !found {
			return nil, fmt.Errorf("package %s not found", name)
		}
		packages[name] = pkg
	}
	return build(packages)
}

// sortByOrder sorts names by their topological position
func (d *DependencyGraph) sortByOrder(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return d.index[names[i]] < d.index[names[j]]
	})
}
