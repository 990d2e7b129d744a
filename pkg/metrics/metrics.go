/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every wharf metric. It is separate from the default
// registry so that a run can be dumped without Go runtime collectors.
var Registry = prometheus.NewRegistry()

var (
	// Publish metrics
	publishAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wharf_publish_attempts_total",
		Help: "Total number of publish attempts by failure class",
	}, []string{"package", "class"})

	publishOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wharf_publish_outcomes_total",
		Help: "Total number of terminal publish outcomes",
	}, []string{"status"})

	publishDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wharf_publish_duration_seconds",
		Help:    "Duration of a package publish including retries",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4m
	}, []string{"status"})

	// Exec metrics
	execTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wharf_exec_total",
		Help: "Total number of per-package command executions",
	}, []string{"result"})

	// Plan metrics
	planPackages = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wharf_plan_packages",
		Help: "Number of packages in the current version plan by reason",
	}, []string{"reason"})
)

func init() {
	Registry.MustRegister(
		publishAttempts,
		publishOutcomes,
		publishDuration,
		execTotal,
		planPackages,
	)
}

// RecordPublishAttempt records a single publish attempt
// class: "none", "transient" or "permanent"
func RecordPublishAttempt(pkg, class string) {
	publishAttempts.WithLabelValues(pkg, class).Inc()
}

// RecordPublishOutcome records a terminal publish outcome
// status: "published", "failed" or "skipped"
func RecordPublishOutcome(status string, durationSeconds float64) {
	publishOutcomes.WithLabelValues(status).Inc()
	if status != "skipped" {
		publishDuration.WithLabelValues(status).Observe(durationSeconds)
	}
}

// RecordExec records a per-package command execution
// result: "succeeded", "failed" or "skipped"
func RecordExec(result string) {
	execTotal.WithLabelValues(result).Inc()
}

// SetPlanPackages sets the gauge for planned packages
func SetPlanPackages(reason string, count int) {
	planPackages.WithLabelValues(reason).Set(float64(count))
}

// ResetPlanPackages clears the planned packages gauge
func ResetPlanPackages() {
	planPackages.Reset()
}

// WriteToTextfile dumps the registry in the text exposition format
func WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
