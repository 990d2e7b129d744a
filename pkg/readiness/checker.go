package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
)

// ErrTimeout is returned by Wait when the version did not become visible in time
var ErrTimeout = errors.New("timed out waiting for index")

// CheckerConfig contains configuration for the checker
type CheckerConfig struct {
	// Predicates are the predicate types that must all hold
	// Default: VersionPublished
	Predicates []string

	// Interval is the delay between polls
	// Default: 2s
	Interval time.Duration

	// Timeout bounds a single Wait
	// Default: 1m
	Timeout time.Duration
}

// DefaultCheckerConfig returns the default checker configuration
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		Predicates: []string{PredicateVersionPublished},
		Interval:   2 * time.Second,
		Timeout:    time.Minute,
	}
}

// Checker evaluates readiness predicates against a registry index
type Checker struct {
	index      Index
	evaluators []Evaluator
	config     CheckerConfig
}

// NewChecker creates a new readiness checker
func NewChecker(idx Index, config CheckerConfig) (*Checker, error) {
	if idx == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}

	defaults := DefaultCheckerConfig()
	if len(config.Predicates) == 0 {
		config.Predicates = defaults.Predicates
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	evaluators := make([]Evaluator, 0, len(config.Predicates))
	for _, p := range config.Predicates {
		evaluator, err := NewEvaluator(p)
		if err != nil {
			return nil, fmt.Errorf("failed to create evaluator: %w", err)
		}
		evaluators = append(evaluators, evaluator)
	}

	return &Checker{
		index:      idx,
		evaluators: evaluators,
		config:     config,
	}, nil
}

// Check evaluates all readiness predicates for name@version
// Returns true if all predicates are satisfied, false otherwise
func (c *Checker) Check(ctx context.Context, name, version string) (bool, error) {
	for _, evaluator := range c.evaluators {
		ready, err := evaluator.Evaluate(ctx, c.index, name, version)
		if err != nil {
			return false, fmt.Errorf("predicate evaluation failed: %w", err)
		}

		if !ready {
			// At least one predicate not satisfied
			return false, nil
		}
	}

	// All predicates satisfied
	return true, nil
}

// Wait polls until name@version is ready or the configured timeout passes.
// Index errors are retried like a negative answer.
func (c *Checker) Wait(ctx context.Context, name, version string) error {
	logger := logr.FromContextOrDiscard(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	poll := func() error {
		ready, err := c.Check(waitCtx, name, version)
		if err != nil {
			logger.V(1).Info("index query failed", "package", name, "version", version, "error", err.Error())
			return err
		}
		if !ready {
			return fmt.Errorf("%s@%s not yet visible", name, version)
		}
		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.config.Interval), waitCtx)
	err := backoff.Retry(poll, b)
	if err == nil {
		logger.V(1).Info("version visible in index", "package", name, "version", version)
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitCtx.Err() != nil {
		return fmt.Errorf("%w: %s@%s after %s", ErrTimeout, name, version, c.config.Timeout)
	}
	return err
}
