package version

import (
	"context"
	"errors"
	"testing"

	"github.com/blang/semver/v4"
	"github.com/google/go-cmp/cmp"

	"github.com/chazu/wharf/pkg/graph"
	"github.com/chazu/wharf/pkg/workspace"
)

func pkgAt(name, version string, deps ...string) workspace.Package {
	p := workspace.Package{Name: name, Version: version, Path: "packages/" + name}
	for _, dep := range deps {
		p.Dependencies = append(p.Dependencies, workspace.Dependency{Name: dep, Requirement: "^1.0.0"})
	}
	return p
}

func mustGraph(t *testing.T, packages ...workspace.Package) *graph.DependencyGraph {
	t.Helper()
	g, err := graph.Build(&workspace.Workspace{Packages: packages})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return g
}

type plannedVersion struct {
	Name   string
	New    string
	Reason Reason
	Cause  string
}

func summarize(p *Plan) []plannedVersion {
	var out []plannedVersion
	for _, e := range p.Entries() {
		out = append(out, plannedVersion{Name: e.Name, New: e.New.String(), Reason: e.Reason, Cause: e.Cause})
	}
	return out
}

type fixedPrompter map[string]string

func (f fixedPrompter) Choose(_ context.Context, name string, _ semver.Version) (semver.Version, error) {
	v, ok := f[name]
	if !ok {
		return semver.Version{}, errors.New("no answer")
	}
	return semver.Parse(v)
}

func TestPlanner_Plan(t *testing.T) {
	tests := []struct {
		name     string
		packages []workspace.Package
		changed  []string
		policy   Policy
		want     []plannedVersion
	}{
		{
			name:     "patch propagates to dependent",
			packages: []workspace.Package{pkgAt("core", "1.0.0"), pkgAt("utils", "1.0.0", "core")},
			changed:  []string{"core"},
			policy:   Policy{Uniform: BumpPatch},
			want: []plannedVersion{
				{Name: "core", New: "1.0.1", Reason: ReasonDirectlyChanged},
				{Name: "utils", New: "1.0.1", Reason: ReasonDependencyBumped, Cause: "core"},
			},
		},
		{
			name:     "nothing changed",
			packages: []workspace.Package{pkgAt("core", "1.0.0"), pkgAt("utils", "1.0.0", "core")},
			policy:   Policy{Uniform: BumpPatch},
		},
		{
			name:     "leaf change does not affect dependencies",
			packages: []workspace.Package{pkgAt("core", "1.0.0"), pkgAt("utils", "1.0.0", "core")},
			changed:  []string{"utils"},
			policy:   Policy{Uniform: BumpMinor},
			want: []plannedVersion{
				{Name: "utils", New: "1.1.0", Reason: ReasonDirectlyChanged},
			},
		},
		{
			name: "transitive propagation",
			packages: []workspace.Package{
				pkgAt("a", "1.0.0"), pkgAt("b", "2.0.0", "a"), pkgAt("c", "0.3.0", "b"),
			},
			changed: []string{"a"},
			policy:  Policy{Uniform: BumpMajor},
			want: []plannedVersion{
				{Name: "a", New: "2.0.0", Reason: ReasonDirectlyChanged},
				{Name: "b", New: "2.0.1", Reason: ReasonDependencyBumped, Cause: "a"},
				{Name: "c", New: "0.3.1", Reason: ReasonDependencyBumped, Cause: "b"},
			},
		},
		{
			name: "diamond bumps shared dependent once",
			packages: []workspace.Package{
				pkgAt("a", "1.0.0"), pkgAt("b", "1.0.0", "a"), pkgAt("c", "1.0.0", "a"), pkgAt("d", "1.0.0", "b", "c"),
			},
			changed: []string{"a"},
			policy:  Policy{Uniform: BumpPatch},
			want: []plannedVersion{
				{Name: "a", New: "1.0.1", Reason: ReasonDirectlyChanged},
				{Name: "b", New: "1.0.1", Reason: ReasonDependencyBumped, Cause: "a"},
				{Name: "c", New: "1.0.1", Reason: ReasonDependencyBumped, Cause: "a"},
				{Name: "d", New: "1.0.1", Reason: ReasonDependencyBumped, Cause: "b"},
			},
		},
		{
			name:     "direct change wins over propagation",
			packages: []workspace.Package{pkgAt("core", "1.0.0"), pkgAt("utils", "1.0.0", "core")},
			changed:  []string{"core", "utils"},
			policy:   Policy{Explicit: map[string]string{"core": "2.0.0", "utils": "1.0.5"}},
			want: []plannedVersion{
				{Name: "core", New: "2.0.0", Reason: ReasonDirectlyChanged},
				{Name: "utils", New: "1.0.5", Reason: ReasonDirectlyChanged},
			},
		},
		{
			name:     "explicit version forces unchanged package",
			packages: []workspace.Package{pkgAt("core", "1.0.0"), pkgAt("utils", "1.0.0", "core")},
			policy:   Policy{Explicit: map[string]string{"utils": "v1.2.0"}},
			want: []plannedVersion{
				{Name: "utils", New: "1.2.0", Reason: ReasonForced},
			},
		},
		{
			name:     "force all",
			packages: []workspace.Package{pkgAt("core", "1.0.0"), pkgAt("utils", "1.0.0", "core")},
			policy:   Policy{Uniform: BumpMinor, Force: []string{ForceAll}},
			want: []plannedVersion{
				{Name: "core", New: "1.1.0", Reason: ReasonForced},
				{Name: "utils", New: "1.1.0", Reason: ReasonForced},
			},
		},
		{
			name:     "configured propagation kind",
			packages: []workspace.Package{pkgAt("core", "1.0.0"), pkgAt("utils", "1.0.0", "core")},
			changed:  []string{"core"},
			policy:   Policy{Uniform: BumpMajor, Propagation: BumpMinor},
			want: []plannedVersion{
				{Name: "core", New: "2.0.0", Reason: ReasonDirectlyChanged},
				{Name: "utils", New: "1.1.0", Reason: ReasonDependencyBumped, Cause: "core"},
			},
		},
		{
			name:     "pre-release dependent stays on channel",
			packages: []workspace.Package{pkgAt("core", "1.0.0"), pkgAt("utils", "1.1.0-beta.0", "core")},
			changed:  []string{"core"},
			policy:   Policy{Uniform: BumpPatch, PreID: "beta"},
			want: []plannedVersion{
				{Name: "core", New: "1.0.1", Reason: ReasonDirectlyChanged},
				{Name: "utils", New: "1.1.0-beta.1", Reason: ReasonDependencyBumped, Cause: "core"},
			},
		},
		{
			name:     "prompter chooses versions",
			packages: []workspace.Package{pkgAt("core", "1.0.0"), pkgAt("utils", "1.0.0", "core")},
			changed:  []string{"core"},
			policy:   Policy{Prompter: fixedPrompter{"core": "1.4.0"}},
			want: []plannedVersion{
				{Name: "core", New: "1.4.0", Reason: ReasonDirectlyChanged},
				{Name: "utils", New: "1.0.1", Reason: ReasonDependencyBumped, Cause: "core"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := mustGraph(t, tt.packages...)
			plan, err := NewPlanner().Plan(context.Background(), g, tt.changed, tt.policy)
			if err != nil {
				t.Fatalf("Plan() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, summarize(plan)); diff != "" {
				t.Errorf("Plan() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlanner_PlanIsMonotonic(t *testing.T) {
	g := mustGraph(t,
		pkgAt("a", "1.0.0"), pkgAt("b", "1.0.0", "a"), pkgAt("c", "1.0.0", "a"),
		pkgAt("d", "1.0.0", "b", "c"), pkgAt("e", "1.0.0"),
	)

	plan, err := NewPlanner().Plan(context.Background(), g, []string{"a"}, Policy{Uniform: BumpMinor})
	if err != nil {
		t.Fatal(err)
	}

	dependents, _ := g.TransitiveDependents("a")
	for _, name := range dependents {
		if !plan.Has(name) {
			t.Errorf("transitive dependent %s missing from plan", name)
		}
	}
	if plan.Has("e") {
		t.Error("unrelated package e must not be planned")
	}
	for _, e := range plan.Entries() {
		if !e.New.GT(e.Old) {
			t.Errorf("%s: %s is not greater than %s", e.Name, e.New, e.Old)
		}
	}
}

func TestPlanner_InvalidRequests(t *testing.T) {
	packages := []workspace.Package{pkgAt("core", "1.2.0"), pkgAt("utils", "1.0.0", "core")}

	tests := []struct {
		name    string
		changed []string
		policy  Policy
	}{
		{name: "explicit version lower than current", changed: []string{"core"}, policy: Policy{Explicit: map[string]string{"core": "1.1.0"}}},
		{name: "explicit version equal to current", changed: []string{"core"}, policy: Policy{Explicit: map[string]string{"core": "1.2.0"}}},
		{name: "explicit version unparseable", changed: []string{"core"}, policy: Policy{Explicit: map[string]string{"core": "next"}}},
		{name: "explicit version for unknown package", policy: Policy{Explicit: map[string]string{"ghost": "1.0.0"}}},
		{name: "forced unknown package", policy: Policy{Uniform: BumpPatch, Force: []string{"ghost"}}},
		{name: "prompter answers lower version", changed: []string{"core"}, policy: Policy{Prompter: fixedPrompter{"core": "1.0.0"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := mustGraph(t, packages...)
			plan, err := NewPlanner().Plan(context.Background(), g, tt.changed, tt.policy)
			if !errors.Is(err, ErrInvalidBumpRequest) {
				t.Fatalf("expected ErrInvalidBumpRequest, got %v", err)
			}
			if plan != nil {
				t.Error("no plan may be returned for an invalid request")
			}
			var bumpErr *InvalidBumpRequestError
			if !errors.As(err, &bumpErr) || bumpErr.Package == "" {
				t.Errorf("expected InvalidBumpRequestError naming the package, got %v", err)
			}
		})
	}
}

func TestPlanner_Errors(t *testing.T) {
	g := mustGraph(t, pkgAt("core", "1.0.0"))
	planner := NewPlanner()

	if _, err := planner.Plan(context.Background(), nil, nil, Policy{Uniform: BumpPatch}); err == nil {
		t.Error("expected error for nil graph")
	}
	if _, err := planner.Plan(context.Background(), g, []string{"core"}, Policy{}); err == nil {
		t.Error("expected error for empty policy")
	}
	if _, err := planner.Plan(context.Background(), g, []string{"ghost"}, Policy{Uniform: BumpPatch}); err == nil {
		t.Error("expected error for unknown changed package")
	}
	if _, err := planner.Plan(context.Background(), g, []string{"core"}, Policy{Prompter: fixedPrompter{}}); err == nil {
		t.Error("expected prompter error to propagate")
	}
}

func TestPlan_RequirementUpdates(t *testing.T) {
	core := pkgAt("core", "1.0.0")
	utils := workspace.Package{
		Name: "utils", Version: "1.0.0", Path: "packages/utils",
		Dependencies: []workspace.Dependency{
			{Name: "core", Requirement: "^1.0.0"},
			{Name: "core", Requirement: "*", Kind: workspace.DependencyKindDev},
		},
	}
	cli := workspace.Package{
		Name: "cli", Version: "0.1.0", Path: "packages/cli",
		Dependencies: []workspace.Dependency{{Name: "utils", Requirement: ">=1.0.0, <2.0.0"}},
	}
	g := mustGraph(t, core, utils, cli)

	plan, err := NewPlanner().Plan(context.Background(), g, []string{"core"}, Policy{Uniform: BumpMinor})
	if err != nil {
		t.Fatal(err)
	}

	want := []RequirementUpdate{
		{Package: "utils", Dependency: "core", Old: "^1.0.0", New: "^1.1.0"},
		{Package: "cli", Dependency: "utils", Old: ">=1.0.0, <2.0.0", New: "1.0.1"},
	}
	if diff := cmp.Diff(want, plan.RequirementUpdates); diff != "" {
		t.Errorf("RequirementUpdates mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_Apply(t *testing.T) {
	packages := []workspace.Package{pkgAt("core", "1.0.0"), pkgAt("utils", "1.0.0", "core")}
	g := mustGraph(t, packages...)

	plan, err := NewPlanner().Plan(context.Background(), g, []string{"core"}, Policy{Uniform: BumpPatch})
	if err != nil {
		t.Fatal(err)
	}
	if err := plan.Apply(g); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	core, _ := g.Package("core")
	utils, _ := g.Package("utils")
	if core.Version != "1.0.1" || utils.Version != "1.0.1" {
		t.Errorf("unexpected versions core=%s utils=%s", core.Version, utils.Version)
	}
	if utils.Dependencies[0].Requirement != "^1.0.1" {
		t.Errorf("expected rewritten requirement, got %q", utils.Dependencies[0].Requirement)
	}
	if packages[1].Dependencies[0].Requirement != "^1.0.0" {
		t.Error("Apply must not modify the caller's workspace")
	}

	if err := plan.Apply(g); err == nil {
		t.Error("expected error applying a plan twice")
	}

	// A fresh plan over the applied graph is unaffected by the old changes
	again, err := NewPlanner().Plan(context.Background(), g, nil, Policy{Uniform: BumpPatch})
	if err != nil {
		t.Fatal(err)
	}
	if !again.IsEmpty() {
		t.Errorf("expected empty plan, got %v", again.Names())
	}
}

func TestPlan_ApplyRejectsStaleGraph(t *testing.T) {
	g := mustGraph(t, pkgAt("core", "1.0.0"))
	plan, err := NewPlanner().Plan(context.Background(), g, []string{"core"}, Policy{Uniform: BumpPatch})
	if err != nil {
		t.Fatal(err)
	}

	core, _ := g.Package("core")
	core.Version = "1.0.5"

	if err := plan.Apply(g); err == nil {
		t.Error("expected error applying a plan to a graph that moved")
	}
	if core.Version != "1.0.5" {
		t.Errorf("failed Apply must not change versions, got %s", core.Version)
	}
}

func TestRewriteRequirement(t *testing.T) {
	v := semver.MustParse("1.4.0")
	tests := []struct {
		req  string
		want string
	}{
		{req: "^1.0.0", want: "^1.4.0"},
		{req: "~1.3.2", want: "~1.4.0"},
		{req: ">=1.0.0", want: ">=1.4.0"},
		{req: ">1.0.0", want: ">1.4.0"},
		{req: "=1.0.0", want: "=1.4.0"},
		{req: "==1.0.0", want: "==1.4.0"},
		{req: "1.0.0", want: "1.4.0"},
		{req: "*", want: "*"},
		{req: "", want: ""},
		{req: "<2.0.0", want: "1.4.0"},
		{req: ">=1.0.0, <2.0.0", want: "1.4.0"},
		{req: "^1.0.0 || ^2.0.0", want: "1.4.0"},
	}

	for _, tt := range tests {
		t.Run(tt.req, func(t *testing.T) {
			if got := RewriteRequirement(tt.req, v); got != tt.want {
				t.Errorf("RewriteRequirement(%q) = %q, want %q", tt.req, got, tt.want)
			}
		})
	}
}
