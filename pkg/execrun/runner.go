package execrun

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/chazu/wharf/pkg/graph"
	"github.com/chazu/wharf/pkg/metrics"
	"github.com/chazu/wharf/pkg/workspace"
)

// Status is the outcome of a package command
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Options configures a run
type Options struct {
	// Unordered runs every package immediately instead of in dependency order
	Unordered bool

	// MaxConcurrency bounds the number of commands running at once
	// Default: 10
	MaxConcurrency int

	// StopOnFailure stops starting commands after the first failure.
	// Commands already running finish.
	StopOnFailure bool

	// Include selects packages whose name matches one of the globs.
	// Empty selects every package.
	Include []string

	// Exclude drops packages whose name matches one of the globs
	Exclude []string

	// Env is appended to the environment of every command
	Env []string
}

// Result is the outcome of a single package command
type Result struct {
	Name       string
	Status     Status
	ExitCode   int
	Output     string
	Err        error
	SkipReason graph.SkipReason
	Sequence   int
	Duration   time.Duration
}

// Report lists every selected package's result in completion order
type Report struct {
	Results []Result
}

// Failed returns the names of packages whose command failed
func (r *Report) Failed() []string {
	var names []string
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			names = append(names, res.Name)
		}
	}
	return names
}

// ExitCode is 1 if any package command failed, 0 otherwise
func (r *Report) ExitCode() int {
	if len(r.Failed()) > 0 {
		return 1
	}
	return 0
}

// Runner runs a command across workspace packages
type Runner struct {
	process ProcessRunner
	opts    Options
}

// NewRunner creates a runner. A nil process runner runs commands on the host.
func NewRunner(process ProcessRunner, opts Options) *Runner {
	if process == nil {
		process = OSProcessRunner{}
	}
	return &Runner{process: process, opts: opts}
}

// Select returns the packages of g matched by the include and exclude
// filters, in topological order
func (r *Runner) Select(g *graph.DependencyGraph) ([]string, error) {
	for _, pattern := range append(append([]string(nil), r.opts.Include...), r.opts.Exclude...) {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid package filter %q: %w", pattern, err)
		}
	}

	var names []string
	for _, name := range g.Order() {
		if len(r.opts.Include) > 0 && !matchAny(r.opts.Include, name) {
			continue
		}
		if matchAny(r.opts.Exclude, name) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Run executes cmd once for every selected package of g. A command exiting
// non-zero fails its package without affecting siblings already running.
// Cancelling ctx stops new commands from starting; the report is returned
// together with ctx.Err().
func (r *Runner) Run(ctx context.Context, g *graph.DependencyGraph, cmd *Command) (*Report, error) {
	if g == nil {
		return nil, fmt.Errorf("dependency graph cannot be nil")
	}
	if cmd == nil {
		return nil, fmt.Errorf("command cannot be nil")
	}

	names, err := r.Select(g)
	if err != nil {
		return nil, err
	}
	sub, err := g.Subgraph(names)
	if err != nil {
		return nil, err
	}

	logger := logr.FromContextOrDiscard(ctx)
	logger.Info("running command", "command", cmd.String(), "packages", len(names), "ordered", !r.opts.Unordered)

	var mu sync.Mutex
	results := make(map[string]*Result, len(names))

	step := func(stepCtx context.Context, s *graph.Step) error {
		pkg, _ := sub.Package(s.Name)
		res := &Result{Name: s.Name}
		start := time.Now()

		err := r.runOne(stepCtx, cmd, pkg, res)
		res.Duration = time.Since(start)

		mu.Lock()
		results[s.Name] = res
		mu.Unlock()
		return err
	}

	executor := graph.NewExecutor(graph.ExecutorConfig{
		MaxConcurrency: r.opts.MaxConcurrency,
		Unordered:      r.opts.Unordered,
		StopOnFailure:  r.opts.StopOnFailure,
	})
	state, execErr := executor.Execute(ctx, sub, sub.Order(), step)
	if state == nil {
		return nil, execErr
	}

	report := &Report{}
	for _, name := range names {
		status, _ := state.GetStatus(name)
		res, ran := results[name]
		if !ran {
			res = &Result{Name: name}
		}
		res.Sequence = status.Sequence

		switch status.State {
		case graph.NodeStateSucceeded:
			res.Status = StatusSucceeded
		case graph.NodeStateFailed:
			res.Status = StatusFailed
			res.Err = status.Err
		default:
			res.Status = StatusSkipped
			res.SkipReason = status.SkipReason
			if status.SkippedBecause != "" {
				res.Err = fmt.Errorf("dependency %s failed", status.SkippedBecause)
			}
		}

		metrics.RecordExec(string(res.Status))
		report.Results = append(report.Results, *res)
	}
	sort.SliceStable(report.Results, func(i, j int) bool {
		return report.Results[i].Sequence < report.Results[j].Sequence
	})

	return report, execErr
}

func (r *Runner) runOne(ctx context.Context, cmd *Command, pkg *workspace.Package, res *Result) error {
	logger := logr.FromContextOrDiscard(ctx).WithValues("package", pkg.Name)

	argv, err := cmd.Render(pkg)
	if err != nil {
		res.ExitCode = -1
		return err
	}

	logger.V(1).Info("starting command", "argv", argv, "dir", pkg.Path)
	out, err := r.process.Run(ctx, pkg.Path, argv, r.opts.Env)
	res.ExitCode = out.ExitCode
	res.Output = string(out.Output)
	if err != nil {
		return err
	}

	if out.ExitCode != 0 {
		logger.Info("command failed", "exitCode", out.ExitCode)
		return &CommandError{Name: pkg.Name, ExitCode: out.ExitCode}
	}
	return nil
}
