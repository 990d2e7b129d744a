package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/chazu/wharf/pkg/config"
	"github.com/chazu/wharf/pkg/execrun"
	"github.com/chazu/wharf/pkg/inventory"
	"github.com/chazu/wharf/pkg/pipeline"
	"github.com/chazu/wharf/pkg/readiness"
	"github.com/chazu/wharf/pkg/release"
)

type publishFlags struct {
	policyFlags
	DryRun         bool
	FromPackage    bool
	Concurrency    int
	NoWait         bool
	AttemptTimeout time.Duration
	Output         string
}

var publishOpts publishFlags

var publishCmd = &cobra.Command{
	Use:   "publish [major|minor|patch|premajor|preminor|prepatch|prerelease]",
	Short: "Version and publish changed packages in dependency order",
	Long: `Publish plans new versions for changed packages and publishes them in
dependency order. With --from-package every public package is published at
its current version; versions recorded as published by a prior run are
skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPublish,
}

func init() {
	publishOpts.bind(publishCmd)
	f := publishCmd.Flags()
	f.BoolVar(&publishOpts.DryRun, "dry-run", false, "Report what would be published without publishing")
	f.BoolVar(&publishOpts.FromPackage, "from-package", false, "Publish current versions instead of planning new ones")
	f.IntVar(&publishOpts.Concurrency, "concurrency", 0, "Maximum packages publishing at once (default from config)")
	f.BoolVar(&publishOpts.NoWait, "no-wait", false, "Do not wait for published versions to appear in the index")
	f.DurationVar(&publishOpts.AttemptTimeout, "attempt-timeout", 0, "Limit for a single publish attempt (default from config)")
	f.StringVarP(&publishOpts.Output, "output", "o", "table", "Output format: table, json or yaml")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := logr.FromContextOrDiscard(ctx)

	s, err := load()
	if err != nil {
		return err
	}

	inventoryPath := s.resolve(s.Config.Release.Inventory)
	tracker, err := inventory.Load(inventoryPath)
	if err != nil {
		return err
	}
	loaded := tracker.Generation()

	orchestrator, err := newOrchestrator(s, tracker)
	if err != nil {
		return err
	}

	var report *release.Report
	var runErr error
	if publishOpts.FromPackage {
		report, runErr = orchestrator.Publish(ctx, s.Graph, release.TargetsFromGraph(s.Graph))
	} else {
		policy, err := publishOpts.policy(cmd, args, s.Config)
		if err != nil {
			return err
		}
		var result *pipeline.Result
		result, runErr = pipeline.New(pipeline.Options{
			Detector:     newDetector(cmd, s, "", false),
			Policy:       policy,
			Inventory:    tracker,
			Orchestrator: orchestrator,
		}).Run(ctx, s.Workspace)
		report = result.Report
	}

	if !publishOpts.DryRun {
		if _, err := tracker.SaveIfChanged(inventoryPath, loaded); err != nil {
			logger.Error(err, "failed to save inventory", "path", inventoryPath)
		}
	}

	if report == nil {
		if runErr != nil {
			return runErr
		}
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to publish")
		return nil
	}

	if err := printReport(cmd, report); err != nil {
		return err
	}
	return finish(ctx, runErr, report.ExitCode())
}

// newOrchestrator wires the publish command, the index wait and the
// inventory into an orchestrator
func newOrchestrator(s *session, tracker *inventory.Tracker) (*release.Orchestrator, error) {
	rc := s.Config.Release

	env, err := config.LoadEnv(s.resolve(rc.EnvFile))
	if err != nil {
		return nil, err
	}

	command, err := execrun.ParseCommand(rc.Command)
	if err != nil {
		return nil, fmt.Errorf("invalid publish command: %w", err)
	}

	var patterns []string
	if len(rc.TransientPatterns) > 0 {
		patterns = rc.TransientPatterns
	}
	publisher, err := release.NewCommandPublisher(command, nil, patterns, env)
	if err != nil {
		return nil, err
	}

	cfg := release.DefaultConfig()
	cfg.MaxConcurrency = rc.MaxConcurrency
	cfg.MaxAttempts = rc.MaxAttempts
	cfg.Backoff.InitialInterval = rc.InitialBackoff
	cfg.Backoff.MaxInterval = rc.MaxBackoff
	cfg.AttemptTimeout = rc.AttemptTimeout
	cfg.DryRun = publishOpts.DryRun
	cfg.Inventory = tracker
	if publishOpts.Concurrency > 0 {
		cfg.MaxConcurrency = publishOpts.Concurrency
	}
	if publishOpts.AttemptTimeout > 0 {
		cfg.AttemptTimeout = publishOpts.AttemptTimeout
	}

	if rc.Index.URL != "" && !publishOpts.NoWait {
		index := readiness.NewSparseIndex(rc.Index.URL, &http.Client{Timeout: 30 * time.Second})
		checker, err := readiness.NewChecker(index, readiness.CheckerConfig{
			Predicates: rc.Index.Predicates,
			Interval:   rc.Index.Interval,
			Timeout:    rc.Index.Timeout,
		})
		if err != nil {
			return nil, err
		}
		cfg.Index = checker
	}

	return release.NewOrchestrator(publisher, cfg), nil
}

func printReport(cmd *cobra.Command, report *release.Report) error {
	if publishOpts.Output != "table" {
		return printStructured(cmd.OutOrStdout(), publishOpts.Output, report)
	}

	t := newTable(cmd.OutOrStdout(), "NAME", "VERSION", "STATUS", "ATTEMPTS", "DETAIL")
	for _, rec := range report.Records {
		detail := rec.Cause
		if rec.Status == release.StatusSkipped {
			detail = string(rec.SkipReason)
			if rec.Cause != "" {
				detail += ": " + rec.Cause
			}
		}
		if rec.Warning != "" {
			detail = rec.Warning
		}
		t.row(rec.Name, rec.Version, string(rec.Status), strconv.Itoa(rec.Attempts), orDash(detail))
	}
	if err := t.flush(); err != nil {
		return err
	}

	sum := report.Summary()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s published, %d failed, %d skipped\n",
		plural(sum.Published, "package"), sum.Failed, sum.Skipped)
	return nil
}
