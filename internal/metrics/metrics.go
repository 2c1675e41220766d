// Package metrics holds the Prometheus collectors of the entitlement engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Subscription lifecycle metrics
var (
	// StatusTransitionsTotal counts subscription status changes by trigger
	// (sweep, activate, renewal, suspend, cancel, reactivate).
	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_status_transitions_total",
			Help: "Total number of subscription status changes",
		},
		[]string{"from", "to", "trigger"},
	)

	// SweepRunsTotal counts status-transition sweeps by outcome.
	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_sweep_runs_total",
			Help: "Total number of status-transition sweeps by outcome",
		},
		[]string{"outcome"},
	)

	// SweepFailuresTotal counts organizations a sweep failed to process.
	SweepFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlements_sweep_failures_total",
			Help: "Total number of per-organization sweep failures",
		},
	)

	// SweepDuration tracks how long a sweep takes.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entitlements_sweep_duration_seconds",
			Help:    "Status-transition sweep duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
	)

	// RenewalDecisionsTotal counts renewal request decisions.
	RenewalDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_renewal_decisions_total",
			Help: "Total number of renewal request decisions",
		},
		[]string{"decision"},
	)
)

// Gate metrics
var (
	// FeatureChecksTotal counts feature gate decisions.
	FeatureChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_feature_checks_total",
			Help: "Total number of feature gate checks by result",
		},
		[]string{"result"},
	)

	// LimitChecksTotal counts limit checks by resource and result.
	LimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_limit_checks_total",
			Help: "Total number of resource limit checks by result",
		},
		[]string{"resource", "result"},
	)

	// EntitlementCacheLookups counts cache lookups by tier (local, redis) and result.
	EntitlementCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_cache_lookups_total",
			Help: "Total number of entitlement cache lookups",
		},
		[]string{"tier", "result"},
	)
)

// Job metrics
var (
	// JobsProcessedTotal counts background tasks handled by the worker.
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_jobs_processed_total",
			Help: "Total number of background tasks processed",
		},
		[]string{"task", "status"},
	)
)
