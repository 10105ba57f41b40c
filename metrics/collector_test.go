package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_IncAllocationRequests(t *testing.T) {
	collector := NewCollector()

	before := testutil.ToFloat64(AllocationRequestsTotal)
	collector.IncAllocationRequests()
	after := testutil.ToFloat64(AllocationRequestsTotal)

	assert.Equal(t, before+1, after)
}

func TestCollector_AddItemsAllocated(t *testing.T) {
	collector := NewCollector()

	before := testutil.ToFloat64(ItemsAllocatedTotal)
	collector.AddItemsAllocated(3)
	after := testutil.ToFloat64(ItemsAllocatedTotal)

	assert.Equal(t, before+3, after)
}

func TestCollector_IncClaims(t *testing.T) {
	collector := NewCollector()

	before := testutil.ToFloat64(ClaimsTotal.WithLabelValues("test-claims-ds"))
	collector.IncClaims("test-claims-ds")
	after := testutil.ToFloat64(ClaimsTotal.WithLabelValues("test-claims-ds"))

	assert.Equal(t, before+1, after)
}

func TestCollector_IncClaimConflicts(t *testing.T) {
	collector := NewCollector()

	before := testutil.ToFloat64(ClaimConflictsTotal.WithLabelValues("test-conflicts-ds"))
	collector.IncClaimConflicts("test-conflicts-ds")
	after := testutil.ToFloat64(ClaimConflictsTotal.WithLabelValues("test-conflicts-ds"))

	assert.Equal(t, before+1, after)
}

func TestCollector_IncVersionConflicts(t *testing.T) {
	collector := NewCollector()

	before := testutil.ToFloat64(VersionConflictsTotal.WithLabelValues("test-op"))
	collector.IncVersionConflicts("test-op")
	after := testutil.ToFloat64(VersionConflictsTotal.WithLabelValues("test-op"))

	assert.Equal(t, before+1, after)
}

func TestCollector_IncOwnershipViolations(t *testing.T) {
	collector := NewCollector()

	before := testutil.ToFloat64(OwnershipViolationsTotal)
	collector.IncOwnershipViolations()
	after := testutil.ToFloat64(OwnershipViolationsTotal)

	assert.Equal(t, before+1, after)
}

func TestCollector_IncTransitions(t *testing.T) {
	collector := NewCollector()

	before := testutil.ToFloat64(TransitionsTotal.WithLabelValues("approved"))
	collector.IncTransitions("approved")
	after := testutil.ToFloat64(TransitionsTotal.WithLabelValues("approved"))

	assert.Equal(t, before+1, after)
}

func TestCollector_AddSamplerShortfall(t *testing.T) {
	collector := NewCollector()

	before := testutil.ToFloat64(SamplerShortfallTotal.WithLabelValues("test-shortfall-ds"))
	collector.AddSamplerShortfall("test-shortfall-ds", 4)
	after := testutil.ToFloat64(SamplerShortfallTotal.WithLabelValues("test-shortfall-ds"))

	assert.Equal(t, before+4, after)
}

func TestCollector_IncFallbackQueries(t *testing.T) {
	collector := NewCollector()

	before := testutil.ToFloat64(FallbackQueriesTotal)
	collector.IncFallbackQueries()
	after := testutil.ToFloat64(FallbackQueriesTotal)

	assert.Equal(t, before+1, after)
}

func TestCollector_AddIndexRepairs(t *testing.T) {
	collector := NewCollector()

	before := testutil.ToFloat64(IndexRepairsTotal)
	collector.AddIndexRepairs(2)
	after := testutil.ToFloat64(IndexRepairsTotal)

	assert.Equal(t, before+2, after)
}

func TestCollector_SetDegradedMode(t *testing.T) {
	collector := NewCollector()

	collector.SetDegradedMode(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(DegradedMode))

	collector.SetDegradedMode(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(DegradedMode))
}
