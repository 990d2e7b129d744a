package workspace

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Workspace is the flat package list supplied by the metadata adapter
type Workspace struct {
	// Root is the repository root directory
	Root string `json:"root"`

	// Packages contains every package that is a member of the workspace
	Packages []Package `json:"packages"`
}

// Package represents a single versioned, publishable unit of the workspace
type Package struct {
	// Name is unique within the workspace
	Name string `json:"name"`

	// Version is the current semantic version
	Version string `json:"version"`

	// Path is the package directory, absolute or relative to the workspace root
	Path string `json:"path"`

	// Dependencies lists every dependency the manifest declares, including
	// ones that are not members of the workspace
	Dependencies []Dependency `json:"dependencies,omitempty"`

	// Private packages are versioned but never published
	Private bool `json:"private,omitempty"`
}

// Dependency is a single declared dependency of a package
type Dependency struct {
	// Name of the depended-on package
	Name string `json:"name"`

	// Requirement is the version requirement as written in the manifest (e.g. "^1.2.0")
	Requirement string `json:"requirement,omitempty"`

	// Kind distinguishes normal, dev and build dependencies
	Kind DependencyKind `json:"kind,omitempty"`
}

// DependencyKind defines the kind of a declared dependency
type DependencyKind string

const (
	// DependencyKindNormal is a regular runtime dependency
	DependencyKindNormal DependencyKind = "normal"

	// DependencyKindDev is only needed for tests and examples
	DependencyKindDev DependencyKind = "dev"

	// DependencyKindBuild is needed by build scripts
	DependencyKindBuild DependencyKind = "build"
)

// Lookup returns the package with the given name
func (w *Workspace) Lookup(name string) (*Package, bool) {
	for i := range w.Packages {
		if w.Packages[i].Name == name {
			return &w.Packages[i], true
		}
	}
	return nil, false
}

// Names returns the sorted package names
func (w *Workspace) Names() []string {
	names := make([]string, 0, len(w.Packages))
	for _, pkg := range w.Packages {
		names = append(names, pkg.Name)
	}
	sort.Strings(names)
	return names
}

// Dependency returns the declared dependency on name, if any
func (p *Package) Dependency(name string) (Dependency, bool) {
	for _, dep := range p.Dependencies {
		if dep.Name == name {
			return dep, true
		}
	}
	return Dependency{}, false
}

// ID returns the "name@version" identifier of the package
func (p *Package) ID() string {
	return fmt.Sprintf("%s@%s", p.Name, p.Version)
}

// Fingerprint computes a hash over the package identity and its declared
// dependencies. Two runs that see the same fingerprint are publishing the
// same artifact.
func (p *Package) Fingerprint() string {
	deps := make([]string, 0, len(p.Dependencies))
	for _, dep := range p.Dependencies {
		deps = append(deps, fmt.Sprintf("%s|%s|%s", dep.Name, dep.Requirement, dep.Kind))
	}
	sort.Strings(deps)

	var b strings.Builder
	b.WriteString(p.Name)
	b.WriteByte(0)
	b.WriteString(p.Version)
	b.WriteByte(0)
	b.WriteString(strings.Join(deps, ","))

	return fmt.Sprintf("%x", xxhash.Sum64String(b.String()))
}
