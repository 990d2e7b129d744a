package workspace

import (
	"fmt"

	"github.com/blang/semver/v4"
)

// Validate checks the integrity of the Workspace
func (w *Workspace) Validate() error {
	names := make(map[string]bool, len(w.Packages))
	for _, pkg := range w.Packages {
		if pkg.Name == "" {
			return fmt.Errorf("package name is required")
		}
		if names[pkg.Name] {
			return fmt.Errorf("duplicate package name: %s", pkg.Name)
		}
		names[pkg.Name] = true
	}

	for i := range w.Packages {
		pkg := &w.Packages[i]
		if err := pkg.Validate(); err != nil {
			return fmt.Errorf("package %s: %w", pkg.Name, err)
		}
	}

	return nil
}

// Validate checks the integrity of a Package
func (p *Package) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("package name is required")
	}

	if p.Path == "" {
		return fmt.Errorf("package path is required")
	}

	if _, err := semver.Parse(p.Version); err != nil {
		return fmt.Errorf("invalid version %q: %w", p.Version, err)
	}

	seen := make(map[string]bool, len(p.Dependencies))
	for i := range p.Dependencies {
		dep := &p.Dependencies[i]
		if err := dep.Validate(); err != nil {
			return fmt.Errorf("dependencies[%d]: %w", i, err)
		}
		key := dep.Name + "/" + string(dep.Kind)
		if seen[key] {
			return fmt.Errorf("duplicate %s dependency: %s", dep.Kind, dep.Name)
		}
		seen[key] = true
	}

	return nil
}

// Validate checks the integrity of a Dependency
func (d *Dependency) Validate() error {
	// Set defaults
	if d.Kind == "" {
		d.Kind = DependencyKindNormal
	}

	if d.Name == "" {
		return fmt.Errorf("dependency name is required")
	}

	switch d.Kind {
	case DependencyKindNormal, DependencyKindDev, DependencyKindBuild:
		// Valid
	default:
		return fmt.Errorf("invalid dependency kind: %s", d.Kind)
	}

	return nil
}
