// Package metrics exposes Prometheus metrics for the allocation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AllocationRequestsTotal tracks the total number of batch allocation requests.
var AllocationRequestsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "workalloc_allocation_requests_total",
		Help: "Total batch allocation requests",
	},
)

// ItemsAllocatedTotal tracks the total number of items handed out by batch
// allocations, including re-surfaced in-flight assignments.
var ItemsAllocatedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "workalloc_items_allocated_total",
		Help: "Total items returned by batch allocations",
	},
)

// ClaimsTotal tracks successful claims per dataset.
var ClaimsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "workalloc_claims_total",
		Help: "Total successful work item claims",
	},
	[]string{"dataset"},
)

// ClaimConflictsTotal tracks claims lost to concurrent callers per dataset.
var ClaimConflictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "workalloc_claim_conflicts_total",
		Help: "Total claims skipped because another caller won the race",
	},
	[]string{"dataset"},
)

// VersionConflictsTotal tracks version token mismatches per operation.
var VersionConflictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "workalloc_version_conflicts_total",
		Help: "Total mutations rejected by a stale version token",
	},
	[]string{"operation"},
)

// OwnershipViolationsTotal tracks transitions attempted by a non-owner.
var OwnershipViolationsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "workalloc_ownership_violations_total",
		Help: "Total transitions rejected because the caller does not own the item",
	},
)

// TransitionsTotal tracks completed status transitions by target status.
var TransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "workalloc_transitions_total",
		Help: "Total completed work item status transitions",
	},
	[]string{"status"},
)

// SamplerShortfallTotal tracks datasets yielding fewer candidates than
// their quota.
var SamplerShortfallTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "workalloc_sampler_shortfall_total",
		Help: "Total candidate shortfall recorded against dataset quotas",
	},
	[]string{"dataset"},
)

// FallbackQueriesTotal tracks unweighted cross-dataset fallback queries.
var FallbackQueriesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "workalloc_fallback_queries_total",
		Help: "Total global fallback candidate queries",
	},
)

// IndexRepairsTotal tracks stale assignment index entries healed.
var IndexRepairsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "workalloc_index_repairs_total",
		Help: "Total stale assignment index entries removed",
	},
)

// DegradedMode reports whether the engine runs against a degraded-tier
// store (1) or an atomic-tier store (0).
var DegradedMode = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "workalloc_degraded_mode",
		Help: "Set to 1 when the store falls back to client-side compare-and-swap",
	},
)

// AllocationDuration observes the duration of batch allocations in seconds.
var AllocationDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "workalloc_allocation_duration_seconds",
		Help:    "Duration of batch allocation requests",
		Buckets: prometheus.DefBuckets,
	},
)
