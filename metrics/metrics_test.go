package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestClaimsTotal_Increment(t *testing.T) {
	before := testutil.ToFloat64(ClaimsTotal.WithLabelValues("test-ds"))
	ClaimsTotal.WithLabelValues("test-ds").Inc()
	after := testutil.ToFloat64(ClaimsTotal.WithLabelValues("test-ds"))

	assert.Equal(t, before+1, after)
}

func TestVersionConflictsTotal_Increment(t *testing.T) {
	before := testutil.ToFloat64(VersionConflictsTotal.WithLabelValues("test-op-2"))
	VersionConflictsTotal.WithLabelValues("test-op-2").Inc()
	after := testutil.ToFloat64(VersionConflictsTotal.WithLabelValues("test-op-2"))

	assert.Equal(t, before+1, after)
}

func TestDegradedMode_SetValue(t *testing.T) {
	DegradedMode.Set(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(DegradedMode))

	DegradedMode.Set(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(DegradedMode))
}

func TestAllocationDuration_Observe(t *testing.T) {
	AllocationDuration.Observe(0.25)
	count := testutil.CollectAndCount(AllocationDuration)

	assert.Greater(t, count, 0)
}
