package release

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/chazu/wharf/pkg/graph"
	"github.com/chazu/wharf/pkg/inventory"
	"github.com/chazu/wharf/pkg/metrics"
	"github.com/chazu/wharf/pkg/version"
	"github.com/chazu/wharf/pkg/workspace"
)

// Target is a package version to publish
type Target struct {
	// Name is the package name
	Name string

	// Version is the version to publish
	Version string

	// Path is the package directory
	Path string

	// Private packages are recorded as skipped and never published
	Private bool
}

// Publisher uploads a package version to the registry. Implementations wrap
// failures with Transient or Permanent; unclassified errors are permanent.
type Publisher interface {
	Publish(ctx context.Context, target Target) error
}

// PublisherFunc adapts a function to the Publisher interface
type PublisherFunc func(ctx context.Context, target Target) error

// Publish calls f
func (f PublisherFunc) Publish(ctx context.Context, target Target) error {
	return f(ctx, target)
}

// IndexWaiter blocks until a published version is visible on the registry's
// read path
type IndexWaiter interface {
	Wait(ctx context.Context, name, version string) error
}

// BackoffConfig configures the delay between attempts
type BackoffConfig struct {
	// InitialInterval is the delay before the first retry
	// Default: 1s
	InitialInterval time.Duration

	// MaxInterval caps a single delay
	// Default: 30s
	MaxInterval time.Duration

	// Multiplier grows the delay after each retry
	// Default: 2
	Multiplier float64

	// RandomizationFactor adds jitter; 0 disables it
	RandomizationFactor float64
}

// Config contains configuration for the orchestrator
type Config struct {
	// MaxConcurrency is the maximum number of packages publishing at once
	// Default: 4
	MaxConcurrency int

	// MaxAttempts bounds the attempts per package, including the first
	// Default: 4
	MaxAttempts int

	// Backoff configures the delay between attempts
	Backoff BackoffConfig

	// AttemptTimeout bounds a single publish call; 0 means no limit.
	// An attempt that times out is transient.
	AttemptTimeout time.Duration

	// DryRun records what would be published without calling the publisher
	DryRun bool

	// Index is waited on after each successful publish. Optional.
	Index IndexWaiter

	// Inventory records outcomes and skips versions published by a prior
	// run. Optional.
	Inventory *inventory.Tracker
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		MaxAttempts:    4,
		Backoff: BackoffConfig{
			InitialInterval:     time.Second,
			MaxInterval:         30 * time.Second,
			Multiplier:          2,
			RandomizationFactor: 0.2,
		},
	}
}

// Orchestrator publishes targets in dependency order
type Orchestrator struct {
	publisher Publisher
	config    Config
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an orchestrator. Zero config fields take their
// default values.
func NewOrchestrator(publisher Publisher, config Config) *Orchestrator {
	defaults := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.Backoff.InitialInterval <= 0 {
		config.Backoff.InitialInterval = defaults.Backoff.InitialInterval
	}
	if config.Backoff.MaxInterval <= 0 {
		config.Backoff.MaxInterval = defaults.Backoff.MaxInterval
	}
	if config.Backoff.Multiplier < 1 {
		config.Backoff.Multiplier = defaults.Backoff.Multiplier
	}

	return &Orchestrator{
		publisher: publisher,
		config:    config,
		sleep:     sleepContext,
	}
}

// TargetsFromPlan returns one target per planned package
func TargetsFromPlan(g *graph.DependencyGraph, plan *version.Plan) ([]Target, error) {
	var targets []Target
	for _, e := range plan.Entries() {
		pkg, found := g.Package(e.Name)
		if !found {
			return nil, fmt.Errorf("planned package %s not found", e.Name)
		}
		targets = append(targets, Target{
			Name:    e.Name,
			Version: e.New.String(),
			Path:    pkg.Path,
			Private: pkg.Private,
		})
	}
	return targets, nil
}

// TargetsFromGraph returns one target per package at its current version
func TargetsFromGraph(g *graph.DependencyGraph) []Target {
	var targets []Target
	for _, name := range g.Order() {
		pkg, _ := g.Package(name)
		targets = append(targets, Target{Name: name, Version: pkg.Version, Path: pkg.Path, Private: pkg.Private})
	}
	return targets
}

// Publish publishes every target. A target starts only after every target it
// depends on in g has been published or skipped without blocking; packages
// of g that are not targets count as already released.
//
// Publish failures do not abort the run: they are reported per package in
// the Report. Cancelling ctx stops targets from starting; the partial report
// is returned with ctx.Err().
func (o *Orchestrator) Publish(ctx context.Context, g *graph.DependencyGraph, targets []Target) (*Report, error) {
	if g == nil {
		return nil, fmt.Errorf("dependency graph cannot be nil")
	}
	if o.publisher == nil && !o.config.DryRun {
		return nil, fmt.Errorf("publisher cannot be nil")
	}

	byName := make(map[string]Target, len(targets))
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		if !g.Has(t.Name) {
			return nil, fmt.Errorf("target %s is not a workspace member", t.Name)
		}
		if _, dup := byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate target %s", t.Name)
		}
		byName[t.Name] = t
		names = append(names, t.Name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		return g.Position(names[i]) < g.Position(names[j])
	})

	runID := uuid.NewString()
	logger := logr.FromContextOrDiscard(ctx).WithValues("run", runID)
	ctx = logr.NewContext(ctx, logger)

	if o.config.DryRun {
		return o.dryRun(ctx, runID, names, byName), nil
	}

	logger.Info("publishing packages", "packages", len(names), "maxConcurrency", o.config.MaxConcurrency)

	var mu sync.Mutex
	records := make(map[string]*Record, len(names))

	step := func(stepCtx context.Context, s *graph.Step) error {
		rec, err := o.publishOne(ctx, stepCtx, g, s, byName[s.Name], runID)
		mu.Lock()
		records[s.Name] = rec
		mu.Unlock()
		return err
	}

	executor := graph.NewExecutor(graph.ExecutorConfig{MaxConcurrency: o.config.MaxConcurrency})
	state, execErr := executor.Execute(ctx, g, names, step)
	if state == nil {
		return nil, execErr
	}

	report := &Report{RunID: runID}
	for _, name := range names {
		status, _ := state.GetStatus(name)
		rec, ran := records[name]
		if !ran {
			rec = &Record{Name: name, Version: byName[name].Version}
		}
		rec.Sequence = status.Sequence
		rec.StartedAt = status.StartTime
		rec.FinishedAt = status.EndTime

		switch status.State {
		case graph.NodeStateSucceeded:
			if rec.Status == "" {
				rec.Status = StatusPublished
			}
		case graph.NodeStateFailed:
			rec.Status = StatusFailed
			if rec.Cause == "" && status.Err != nil {
				rec.Cause = status.Err.Error()
			}
		default:
			rec.Status = StatusSkipped
			switch status.SkipReason {
			case graph.SkipReasonDependencyFailed:
				rec.SkipReason = SkipReasonDependencyFailed
				rec.Cause = status.SkippedBecause
			default:
				rec.SkipReason = SkipReasonCancelled
			}
			metrics.RecordPublishOutcome(string(StatusSkipped), 0)
		}

		report.Records = append(report.Records, *rec)
	}
	sort.SliceStable(report.Records, func(i, j int) bool {
		return report.Records[i].Sequence < report.Records[j].Sequence
	})

	summary := report.Summary()
	logger.Info("publish finished",
		"published", summary.Published, "failed", summary.Failed, "skipped", summary.Skipped)

	return report, execErr
}

// publishOne runs the attempt loop for a single target. A returned error
// fails the package and skips its dependents; non-blocking skips return nil.
// Attempts run on ctx, which is never cancelled; cancelling runCtx only cuts
// short the wait before a retry.
func (o *Orchestrator) publishOne(runCtx, ctx context.Context, g *graph.DependencyGraph, s *graph.Step, target Target, runID string) (*Record, error) {
	logger := logr.FromContextOrDiscard(ctx).WithValues("package", target.Name, "version", target.Version)
	rec := &Record{Name: target.Name, Version: target.Version}

	if target.Private {
		logger.V(1).Info("skipping package", "reason", SkipReasonPrivate)
		rec.Status, rec.SkipReason = StatusSkipped, SkipReasonPrivate
		metrics.RecordPublishOutcome(string(StatusSkipped), 0)
		return rec, nil
	}

	if inv := o.config.Inventory; inv != nil && inv.IsPublished(target.Name, target.Version) {
		if inv.HasDrift(inventory.ItemID(target.Name, target.Version), fingerprint(g, target)) {
			err := Permanent(fmt.Errorf("%s@%s: %w", target.Name, target.Version, ErrDrift))
			logger.Info("publish failed", "reason", "drift", "error", err.Error())
			rec.Status, rec.Cause = StatusFailed, err.Error()
			metrics.RecordPublishOutcome(string(StatusFailed), 0)
			return rec, err
		}
		logger.Info("skipping package", "reason", SkipReasonAlreadyPublished)
		rec.Status, rec.SkipReason = StatusSkipped, SkipReasonAlreadyPublished
		metrics.RecordPublishOutcome(string(StatusSkipped), 0)
		return rec, nil
	}

	b := o.newBackOff()
	start := time.Now()

	for {
		rec.Attempts = s.Attempts()

		err := o.attempt(ctx, target)
		class := Classify(err)
		metrics.RecordPublishAttempt(target.Name, class.String())

		switch decide(class, rec.Attempts, o.config.MaxAttempts) {
		case DecisionPublished:
			rec.Status = StatusPublished
			rec.Cause = ""
			logger.Info("published package", "attempt", rec.Attempts)
			o.recordInventory(g, target, rec, runID)
			o.waitForIndex(ctx, logger, target, rec)
			metrics.RecordPublishOutcome(string(StatusPublished), time.Since(start).Seconds())
			return rec, nil

		case DecisionRetry:
			delay := b.NextBackOff()
			if delay == backoff.Stop {
				delay = o.config.Backoff.MaxInterval
			}
			logger.Info("publish failed, retrying",
				"attempt", rec.Attempts, "backoff", delay.String(), "reason", class.String(), "error", err.Error())
			if ferr := s.Fail(err); ferr != nil {
				return rec, ferr
			}
			if serr := o.sleep(runCtx, delay); serr != nil {
				rec.Status = StatusFailed
				rec.Cause = fmt.Sprintf("%v (retry cancelled: %v)", err, serr)
				logger.Info("publish failed, retry cancelled", "attempt", rec.Attempts, "error", err.Error())
				o.recordInventory(g, target, rec, runID)
				metrics.RecordPublishOutcome(string(StatusFailed), time.Since(start).Seconds())
				return rec, err
			}
			if rerr := s.Retry(); rerr != nil {
				return rec, rerr
			}

		default:
			rec.Status = StatusFailed
			rec.Cause = err.Error()
			logger.Info("publish failed", "attempt", rec.Attempts, "reason", class.String(), "error", err.Error())
			o.recordInventory(g, target, rec, runID)
			metrics.RecordPublishOutcome(string(StatusFailed), time.Since(start).Seconds())
			return rec, err
		}
	}
}

func (o *Orchestrator) attempt(ctx context.Context, target Target) error {
	if o.config.AttemptTimeout <= 0 {
		return o.publisher.Publish(ctx, target)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, o.config.AttemptTimeout)
	defer cancel()
	return o.publisher.Publish(attemptCtx, target)
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.config.Backoff.InitialInterval
	b.MaxInterval = o.config.Backoff.MaxInterval
	b.Multiplier = o.config.Backoff.Multiplier
	b.RandomizationFactor = o.config.Backoff.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// waitForIndex blocks until the version is visible. A timeout only warns:
// the version is on the registry and cannot be taken back.
func (o *Orchestrator) waitForIndex(ctx context.Context, logger logr.Logger, target Target, rec *Record) {
	if o.config.Index == nil {
		return
	}
	if err := o.config.Index.Wait(ctx, target.Name, target.Version); err != nil {
		rec.Warning = fmt.Sprintf("version not visible in index: %v", err)
		logger.Info("WARNING: published version not visible in index", "error", err.Error())
	}
}

func (o *Orchestrator) recordInventory(g *graph.DependencyGraph, target Target, rec *Record, runID string) {
	inv := o.config.Inventory
	if inv == nil {
		return
	}

	hash := fingerprint(g, target)
	if rec.Status == StatusPublished {
		inv.RecordPublished(target.Name, target.Version, hash, rec.Attempts, runID)
	} else {
		inv.RecordFailed(target.Name, target.Version, hash, rec.Attempts, runID)
	}
}

// fingerprint identifies the package contents published for target
func fingerprint(g *graph.DependencyGraph, target Target) string {
	pkg, found := g.Package(target.Name)
	if !found {
		return ""
	}
	published := workspace.Package{
		Name:         pkg.Name,
		Version:      target.Version,
		Dependencies: pkg.Dependencies,
	}
	return published.Fingerprint()
}

// dryRun records every target as skipped in topological order
func (o *Orchestrator) dryRun(ctx context.Context, runID string, names []string, targets map[string]Target) *Report {
	logger := logr.FromContextOrDiscard(ctx)
	report := &Report{RunID: runID}
	for i, name := range names {
		t := targets[name]
		reason := SkipReasonDryRun
		if t.Private {
			reason = SkipReasonPrivate
		} else {
			logger.Info("would publish", "package", t.Name, "version", t.Version)
		}
		report.Records = append(report.Records, Record{
			Name:       t.Name,
			Version:    t.Version,
			Status:     StatusSkipped,
			SkipReason: reason,
			Sequence:   i + 1,
		})
	}
	return report
}
