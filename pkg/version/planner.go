package version

import (
	"context"
	"fmt"

	"github.com/blang/semver/v4"
	"github.com/go-logr/logr"

	"github.com/chazu/wharf/pkg/graph"
	"github.com/chazu/wharf/pkg/workspace"
)

// Reason records why a package is part of a plan
type Reason string

const (
	// ReasonDirectlyChanged means the package's own files changed
	ReasonDirectlyChanged Reason = "directly-changed"

	// ReasonDependencyBumped means a workspace dependency of the package is bumped
	ReasonDependencyBumped Reason = "dependency-bumped"

	// ReasonForced means the caller asked for the package regardless of changes
	ReasonForced Reason = "forced"
)

// ForceAll selects every package in Policy.Force
const ForceAll = "*"

// Prompter chooses the next version of a single package interactively
type Prompter interface {
	Choose(ctx context.Context, name string, current semver.Version) (semver.Version, error)
}

// Policy determines how new versions are derived for seeded packages.
// Explicit versions take precedence; the remaining packages use Uniform if
// set and the Prompter otherwise.
type Policy struct {
	// Explicit maps package names to requested versions. An explicit version
	// for an unchanged package forces it into the plan.
	Explicit map[string]string

	// Uniform is applied to every directly changed or forced package
	Uniform BumpKind

	// PreID is the pre-release identifier for pre* bumps
	PreID string

	// Prompter is asked for each seeded package in independent mode
	Prompter Prompter

	// Force adds packages to the plan even without changes. ForceAll selects
	// every package.
	Force []string

	// Propagation is the minimum bump for dependency-bumped packages
	// Default: patch
	Propagation BumpKind
}

// Planner computes version plans
type Planner struct{}

// NewPlanner creates a new planner
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan computes the new version of every affected package. Every request is
// validated before the plan is returned; an invalid request rejects the
// whole plan.
func (p *Planner) Plan(ctx context.Context, g *graph.DependencyGraph, changed []string, policy Policy) (*Plan, error) {
	if g == nil {
		return nil, fmt.Errorf("dependency graph cannot be nil")
	}
	if policy.Uniform == "" && policy.Prompter == nil && len(policy.Explicit) == 0 {
		return nil, fmt.Errorf("bump policy requires explicit versions, a uniform bump or a prompter")
	}
	if policy.Propagation == "" {
		policy.Propagation = BumpPatch
	}

	logger := logr.FromContextOrDiscard(ctx)

	explicit, err := parseExplicit(g, policy.Explicit)
	if err != nil {
		return nil, err
	}

	changedSet := make(map[string]bool, len(changed))
	for _, name := range changed {
		if !g.Has(name) {
			return nil, fmt.Errorf("changed package %s is not a workspace member", name)
		}
		changedSet[name] = true
	}

	forced := make(map[string]bool)
	for _, name := range policy.Force {
		if name == ForceAll {
			for _, n := range g.Order() {
				forced[n] = true
			}
			continue
		}
		if !g.Has(name) {
			return nil, &InvalidBumpRequestError{Package: name, Reason: "not a workspace member"}
		}
		forced[name] = true
	}
	for name := range explicit {
		forced[name] = true
	}

	plan := newPlan(g)

	// Seed
	for _, name := range g.Order() {
		var reason Reason
		switch {
		case changedSet[name]:
			reason = ReasonDirectlyChanged
		case forced[name]:
			reason = ReasonForced
		default:
			continue
		}

		current, err := currentVersion(g, name)
		if err != nil {
			return nil, err
		}

		next, err := p.resolve(ctx, name, current, explicit, policy)
		if err != nil {
			return nil, err
		}
		if !next.GT(current) {
			return nil, &InvalidBumpRequestError{
				Package:   name,
				Requested: next.String(),
				Current:   current.String(),
				Reason:    "new version must be greater than the current version",
			}
		}

		plan.put(&Entry{Name: name, Old: current, New: next, Reason: reason})
	}

	// Propagate over the depended-on-by relation until nothing changes
	queue := plan.Names()
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		dependents, _ := g.Dependents(name)
		for _, dependent := range dependents {
			existing, planned := plan.entries[dependent]
			if planned && existing.Reason != ReasonDependencyBumped {
				continue
			}

			current, err := currentVersion(g, dependent)
			if err != nil {
				return nil, err
			}
			candidate, err := Bump(current, propagationBump(current, policy.Propagation), policy.PreID)
			if err != nil {
				return nil, err
			}

			if planned && existing.New.GTE(candidate) {
				continue
			}

			plan.put(&Entry{Name: dependent, Old: current, New: candidate, Reason: ReasonDependencyBumped, Cause: name})
			if !planned {
				queue = append(queue, dependent)
			}
			logger.V(1).Info("propagating bump", "package", dependent, "dependency", name, "version", candidate.String())
		}
	}

	plan.computeRequirementUpdates(g)

	logger.Info("computed version plan", "packages", plan.Len())
	return plan, nil
}

// resolve returns the requested new version of a seeded package
func (p *Planner) resolve(
	ctx context.Context,
	name string,
	current semver.Version,
	explicit map[string]semver.Version,
	policy Policy,
) (semver.Version, error) {
	if v, ok := explicit[name]; ok {
		return v, nil
	}

	if policy.Uniform != "" {
		return Bump(current, policy.Uniform, policy.PreID)
	}

	if policy.Prompter != nil {
		v, err := policy.Prompter.Choose(ctx, name, current)
		if err != nil {
			return semver.Version{}, fmt.Errorf("failed to choose version for %s: %w", name, err)
		}
		return v, nil
	}

	return semver.Version{}, &InvalidBumpRequestError{
		Package: name,
		Current: current.String(),
		Reason:  "no version requested for changed package",
	}
}

// parseExplicit validates every explicit version request
func parseExplicit(g *graph.DependencyGraph, requested map[string]string) (map[string]semver.Version, error) {
	explicit := make(map[string]semver.Version, len(requested))
	for name, raw := range requested {
		if !g.Has(name) {
			return nil, &InvalidBumpRequestError{Package: name, Requested: raw, Reason: "not a workspace member"}
		}

		current, err := currentVersion(g, name)
		if err != nil {
			return nil, err
		}

		v, err := semver.ParseTolerant(raw)
		if err != nil {
			return nil, &InvalidBumpRequestError{
				Package:   name,
				Requested: raw,
				Current:   current.String(),
				Reason:    err.Error(),
			}
		}

		if !v.GT(current) {
			return nil, &InvalidBumpRequestError{
				Package:   name,
				Requested: v.String(),
				Current:   current.String(),
				Reason:    "new version must be greater than the current version",
			}
		}

		explicit[name] = v
	}
	return explicit, nil
}

func currentVersion(g *graph.DependencyGraph, name string) (semver.Version, error) {
	pkg, found := g.Package(name)
	if !found {
		return semver.Version{}, fmt.Errorf("package %s not found", name)
	}
	v, err := semver.Parse(pkg.Version)
	if err != nil {
		return semver.Version{}, fmt.Errorf("package %s has invalid version %q: %w", name, pkg.Version, err)
	}
	return v, nil
}

// packageDependencies returns the declarations dependent makes on name
func packageDependencies(pkg *workspace.Package, name string) []workspace.Dependency {
	var deps []workspace.Dependency
	for _, dep := range pkg.Dependencies {
		if dep.Name == name {
			deps = append(deps, dep)
		}
	}
	return deps
}
