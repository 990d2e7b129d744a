package config

import (
	"fmt"
	"time"
)

// Config is the resolved wharf configuration
type Config struct {
	Release Release
	Changes Changes
	Version Version
	Exec    Exec
}

// Release configures the release orchestrator
type Release struct {
	MaxConcurrency    int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	AttemptTimeout    time.Duration
	Command           []string
	TransientPatterns []string
	EnvFile           string
	Inventory         string
	Index             Index
}

// Index configures the wait for published versions to become visible.
// An empty URL disables the wait.
type Index struct {
	URL        string
	Interval   time.Duration
	Timeout    time.Duration
	Predicates []string
}

// Changes configures change detection
type Changes struct {
	Since              string
	TagPattern         string
	Ignore             []string
	IncludeUncommitted bool
	AssumeAllChanged   bool
}

// Version configures version planning
type Version struct {
	Propagation string
	PreID       string
}

// Exec configures the parallel exec runner
type Exec struct {
	MaxConcurrency int
	StopOnFailure  bool
	Include        []string
	Exclude        []string
}

// document mirrors #Config as decoded from CUE
type document struct {
	Release struct {
		MaxConcurrency    int      `json:"maxConcurrency"`
		MaxAttempts       int      `json:"maxAttempts"`
		InitialBackoff    string   `json:"initialBackoff"`
		MaxBackoff        string   `json:"maxBackoff"`
		AttemptTimeout    string   `json:"attemptTimeout"`
		Command           []string `json:"command"`
		TransientPatterns []string `json:"transientPatterns"`
		EnvFile           string   `json:"envFile"`
		Inventory         string   `json:"inventory"`
		Index             struct {
			URL        string   `json:"url"`
			Interval   string   `json:"interval"`
			Timeout    string   `json:"timeout"`
			Predicates []string `json:"predicates"`
		} `json:"index"`
	} `json:"release"`

	Changes struct {
		Since              string   `json:"since"`
		TagPattern         string   `json:"tagPattern"`
		Ignore             []string `json:"ignore"`
		IncludeUncommitted bool     `json:"includeUncommitted"`
		AssumeAllChanged   bool     `json:"assumeAllChanged"`
	} `json:"changes"`

	Version struct {
		Propagation string `json:"propagation"`
		PreID       string `json:"preid"`
	} `json:"version"`

	Exec struct {
		MaxConcurrency int      `json:"maxConcurrency"`
		StopOnFailure  bool     `json:"stopOnFailure"`
		Include        []string `json:"include"`
		Exclude        []string `json:"exclude"`
	} `json:"exec"`
}

func (d *document) resolve() (*Config, error) {
	durations := map[string]string{
		"release.initialBackoff": d.Release.InitialBackoff,
		"release.maxBackoff":     d.Release.MaxBackoff,
		"release.attemptTimeout": d.Release.AttemptTimeout,
		"release.index.interval": d.Release.Index.Interval,
		"release.index.timeout":  d.Release.Index.Timeout,
	}
	parsed := make(map[string]time.Duration, len(durations))
	for field, raw := range durations {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for %s: %w", field, err)
		}
		parsed[field] = dur
	}

	return &Config{
		Release: Release{
			MaxConcurrency:    d.Release.MaxConcurrency,
			MaxAttempts:       d.Release.MaxAttempts,
			InitialBackoff:    parsed["release.initialBackoff"],
			MaxBackoff:        parsed["release.maxBackoff"],
			AttemptTimeout:    parsed["release.attemptTimeout"],
			Command:           d.Release.Command,
			TransientPatterns: d.Release.TransientPatterns,
			EnvFile:           d.Release.EnvFile,
			Inventory:         d.Release.Inventory,
			Index: Index{
				URL:        d.Release.Index.URL,
				Interval:   parsed["release.index.interval"],
				Timeout:    parsed["release.index.timeout"],
				Predicates: d.Release.Index.Predicates,
			},
		},
		Changes: Changes{
			Since:              d.Changes.Since,
			TagPattern:         d.Changes.TagPattern,
			Ignore:             d.Changes.Ignore,
			IncludeUncommitted: d.Changes.IncludeUncommitted,
			AssumeAllChanged:   d.Changes.AssumeAllChanged,
		},
		Version: Version{
			Propagation: d.Version.Propagation,
			PreID:       d.Version.PreID,
		},
		Exec: Exec{
			MaxConcurrency: d.Exec.MaxConcurrency,
			StopOnFailure:  d.Exec.StopOnFailure,
			Include:        d.Exec.Include,
			Exclude:        d.Exec.Exclude,
		},
	}, nil
}
