package release

import (
	"time"
)

// Status is the terminal outcome of a package
type Status string

const (
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// SkipReason explains a skipped package
type SkipReason string

const (
	// SkipReasonDependencyFailed means a workspace dependency failed; the
	// package was never attempted
	SkipReasonDependencyFailed SkipReason = "dependency-failed"

	// SkipReasonAlreadyPublished means this exact version reached the
	// registry in a prior run
	SkipReasonAlreadyPublished SkipReason = "already-published"

	// SkipReasonPrivate means the package is never published
	SkipReasonPrivate SkipReason = "private"

	// SkipReasonCancelled means the run was cancelled or stopped before the
	// package started
	SkipReasonCancelled SkipReason = "cancelled"

	// SkipReasonDryRun means the run only reported what it would publish
	SkipReasonDryRun SkipReason = "dry-run"
)

// Record is the outcome of a single package
type Record struct {
	// Name is the package name
	Name string `json:"name"`

	// Version is the version that was, or would have been, published
	Version string `json:"version"`

	// Status is the terminal outcome
	Status Status `json:"status"`

	// Attempts counts publish attempts
	Attempts int `json:"attempts"`

	// Cause is the last error, or the failed dependency for a dependency skip
	Cause string `json:"cause,omitempty"`

	// SkipReason is set for skipped packages
	SkipReason SkipReason `json:"skipReason,omitempty"`

	// Sequence orders terminal outcomes within the run
	Sequence int `json:"sequence"`

	// StartedAt is when the first attempt started
	StartedAt *time.Time `json:"startedAt,omitempty"`

	// FinishedAt is when the outcome was decided
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	// Warning notes a non-fatal problem such as an index wait timeout
	Warning string `json:"warning,omitempty"`
}

// Summary counts records by status
type Summary struct {
	Total     int `json:"total"`
	Published int `json:"published"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Report is the complete record set of a run, ordered by sequence
type Report struct {
	// RunID identifies the run
	RunID string `json:"runID"`

	// Records holds one record per target
	Records []Record `json:"records"`
}

// Get returns the record for name
func (r *Report) Get(name string) (Record, bool) {
	for _, rec := range r.Records {
		if rec.Name == name {
			return rec, true
		}
	}
	return Record{}, false
}

// Summary counts records by status
func (r *Report) Summary() Summary {
	s := Summary{Total: len(r.Records)}
	for _, rec := range r.Records {
		switch rec.Status {
		case StatusPublished:
			s.Published++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// HasFailures reports whether any package failed
func (r *Report) HasFailures() bool {
	return r.Summary().Failed > 0
}

// ExitCode is 1 if any package failed, 0 otherwise
func (r *Report) ExitCode() int {
	if r.HasFailures() {
		return 1
	}
	return 0
}
