package readiness

import (
	"context"
	"errors"
	"fmt"

	"github.com/blang/semver/v4"
)

// ErrPackageNotFound is returned by an Index for a name it has never seen
var ErrPackageNotFound = errors.New("package not found in index")

// IndexEntry is a single version as listed by a registry index
type IndexEntry struct {
	// Version is the published version
	Version string `json:"vers"`

	// Yanked versions are listed but cannot be resolved by new dependents
	Yanked bool `json:"yanked"`
}

// Index is the read path of a package registry
type Index interface {
	// Versions returns every version of name the registry serves
	Versions(ctx context.Context, name string) ([]IndexEntry, error)
}

// Evaluator is the interface for evaluating readiness predicates
type Evaluator interface {
	// Evaluate checks if the predicate is satisfied for name@version
	Evaluate(ctx context.Context, idx Index, name, version string) (bool, error)
}

// ExistsPredicate checks if the registry knows the package at all
type ExistsPredicate struct{}

// Evaluate checks if the package exists
func (p *ExistsPredicate) Evaluate(ctx context.Context, idx Index, name, _ string) (bool, error) {
	if _, err := idx.Versions(ctx, name); err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query index: %w", err)
	}
	return true, nil
}

// VersionPublishedPredicate checks if the exact version is listed and not yanked
type VersionPublishedPredicate struct{}

// Evaluate checks if the version is resolvable
func (p *VersionPublishedPredicate) Evaluate(ctx context.Context, idx Index, name, version string) (bool, error) {
	want, err := semver.ParseTolerant(version)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", version, err)
	}

	entries, err := idx.Versions(ctx, name)
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query index: %w", err)
	}

	for _, entry := range entries {
		got, err := semver.ParseTolerant(entry.Version)
		if err != nil {
			continue
		}
		if got.Equals(want) && !entry.Yanked {
			return true, nil
		}
	}
	return false, nil
}

// NewestAtLeastPredicate checks if the newest listed version is at least the
// requested one. Useful for registries whose index lists only recent versions.
type NewestAtLeastPredicate struct{}

// Evaluate checks the newest listed version
func (p *NewestAtLeastPredicate) Evaluate(ctx context.Context, idx Index, name, version string) (bool, error) {
	want, err := semver.ParseTolerant(version)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", version, err)
	}

	entries, err := idx.Versions(ctx, name)
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query index: %w", err)
	}

	for _, entry := range entries {
		if got, err := semver.ParseTolerant(entry.Version); err == nil && got.GTE(want) {
			return true, nil
		}
	}
	return false, nil
}

// Predicate type names accepted by NewEvaluator
const (
	PredicateExists           = "Exists"
	PredicateVersionPublished = "VersionPublished"
	PredicateNewestAtLeast    = "NewestAtLeast"
)

// NewEvaluator creates an Evaluator from a predicate type
func NewEvaluator(predicateType string) (Evaluator, error) {
	switch predicateType {
	case PredicateExists:
		return &ExistsPredicate{}, nil

	case PredicateVersionPublished:
		return &VersionPublishedPredicate{}, nil

	case PredicateNewestAtLeast:
		return &NewestAtLeastPredicate{}, nil

	default:
		return nil, fmt.Errorf("unknown predicate type: %s", predicateType)
	}
}
