package version

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blang/semver/v4"

	"github.com/chazu/wharf/pkg/graph"
)

// Entry is a single planned version change
type Entry struct {
	// Name is the package name
	Name string `json:"name"`

	// Old is the version before the release
	Old semver.Version `json:"old"`

	// New is the version to release
	New semver.Version `json:"new"`

	// Reason records why the package is in the plan
	Reason Reason `json:"reason"`

	// Cause names the dependency that triggered a dependency-bumped entry
	Cause string `json:"cause,omitempty"`
}

// RequirementUpdate describes a dependency requirement a caller has to
// rewrite in a dependent's manifest
type RequirementUpdate struct {
	// Package is the dependent whose manifest changes
	Package string `json:"package"`

	// Dependency is the bumped workspace dependency
	Dependency string `json:"dependency"`

	// Old is the requirement as currently declared
	Old string `json:"old"`

	// New is the requirement accepting the new version
	New string `json:"new"`
}

// Plan maps package names to their planned version changes
type Plan struct {
	entries map[string]*Entry

	// position orders entries topologically
	position func(name string) int

	// RequirementUpdates lists manifest requirement rewrites, ordered by package
	RequirementUpdates []RequirementUpdate `json:"requirementUpdates,omitempty"`

	applied bool
}

func newPlan(g *graph.DependencyGraph) *Plan {
	return &Plan{
		entries:  make(map[string]*Entry),
		position: g.Position,
	}
}

func (p *Plan) put(e *Entry) {
	p.entries[e.Name] = e
}

// Len returns the number of planned packages
func (p *Plan) Len() int {
	return len(p.entries)
}

// IsEmpty reports whether nothing needs releasing
func (p *Plan) IsEmpty() bool {
	return len(p.entries) == 0
}

// Has reports whether name is part of the plan
func (p *Plan) Has(name string) bool {
	_, found := p.entries[name]
	return found
}

// Get returns the entry for name
func (p *Plan) Get(name string) (Entry, bool) {
	e, found := p.entries[name]
	if !found {
		return Entry{}, false
	}
	return *e, true
}

// Names returns the planned package names in topological order
func (p *Plan) Names() []string {
	names := make([]string, 0, len(p.entries))
	for name := range p.entries {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := p.position(names[i]), p.position(names[j])
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	return names
}

// Entries returns the planned changes in topological order
func (p *Plan) Entries() []Entry {
	names := p.Names()
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, *p.entries[name])
	}
	return entries
}

// Apply writes the new versions and rewritten requirements into the
// graph's packages. A plan can be applied once.
func (p *Plan) Apply(g *graph.DependencyGraph) error {
	if p.applied {
		return fmt.Errorf("plan has already been applied")
	}

	for _, e := range p.entries {
		pkg, found := g.Package(e.Name)
		if !found {
			return fmt.Errorf("package %s not found", e.Name)
		}
		if pkg.Version != e.Old.String() {
			return fmt.Errorf("package %s is at %s, plan expects %s", e.Name, pkg.Version, e.Old)
		}
	}

	for _, e := range p.entries {
		pkg, _ := g.Package(e.Name)
		pkg.Version = e.New.String()
	}

	for _, u := range p.RequirementUpdates {
		pkg, _ := g.Package(u.Package)
		for i := range pkg.Dependencies {
			if pkg.Dependencies[i].Name == u.Dependency && pkg.Dependencies[i].Requirement == u.Old {
				pkg.Dependencies[i].Requirement = u.New
			}
		}
	}

	p.applied = true
	return nil
}

func (p *Plan) computeRequirementUpdates(g *graph.DependencyGraph) {
	p.RequirementUpdates = nil
	seen := make(map[RequirementUpdate]bool)

	for _, name := range p.Names() {
		e := p.entries[name]
		dependents, _ := g.Dependents(name)
		for _, dependent := range dependents {
			pkg, _ := g.Package(dependent)
			for _, dep := range packageDependencies(pkg, name) {
				updated := RewriteRequirement(dep.Requirement, e.New)
				if updated == dep.Requirement {
					continue
				}
				u := RequirementUpdate{Package: dependent, Dependency: name, Old: dep.Requirement, New: updated}
				if seen[u] {
					continue
				}
				seen[u] = true
				p.RequirementUpdates = append(p.RequirementUpdates, u)
			}
		}
	}

	sort.SliceStable(p.RequirementUpdates, func(i, j int) bool {
		a, b := p.RequirementUpdates[i], p.RequirementUpdates[j]
		if a.Package != b.Package {
			return p.position(a.Package) < p.position(b.Package)
		}
		return a.Dependency < b.Dependency
	})
}

// requirementOperators are recognised requirement prefixes, longest first
var requirementOperators = []string{">=", "==", "^", "~", "=", ">"}

// RewriteRequirement returns req pointing at v, keeping its operator.
// Wildcard and empty requirements accept any version and are kept;
// upper bounds and compound ranges are replaced by the bare version.
func RewriteRequirement(req string, v semver.Version) string {
	trimmed := strings.TrimSpace(req)
	if trimmed == "" || trimmed == "*" {
		return req
	}

	if strings.ContainsAny(trimmed, ",|") || strings.HasPrefix(trimmed, "<") {
		return v.String()
	}

	for _, op := range requirementOperators {
		if strings.HasPrefix(trimmed, op) {
			return op + v.String()
		}
	}
	return v.String()
}
