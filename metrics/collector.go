package metrics

// Collector wraps metrics and provides helper methods with pre-filled labels.
type Collector struct{}

// NewCollector creates a new Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// IncAllocationRequests increments the allocation requests counter.
func (c *Collector) IncAllocationRequests() {
	AllocationRequestsTotal.Inc()
}

// AddItemsAllocated adds to the items allocated counter.
func (c *Collector) AddItemsAllocated(count int) {
	ItemsAllocatedTotal.Add(float64(count))
}

// IncClaims increments the successful claims counter for a dataset.
func (c *Collector) IncClaims(dataset string) {
	ClaimsTotal.WithLabelValues(dataset).Inc()
}

// IncClaimConflicts increments the claim conflicts counter for a dataset.
func (c *Collector) IncClaimConflicts(dataset string) {
	ClaimConflictsTotal.WithLabelValues(dataset).Inc()
}

// IncVersionConflicts increments the version conflicts counter for an operation.
func (c *Collector) IncVersionConflicts(operation string) {
	VersionConflictsTotal.WithLabelValues(operation).Inc()
}

// IncOwnershipViolations increments the ownership violations counter.
func (c *Collector) IncOwnershipViolations() {
	OwnershipViolationsTotal.Inc()
}

// IncTransitions increments the transitions counter for a target status.
func (c *Collector) IncTransitions(status string) {
	TransitionsTotal.WithLabelValues(status).Inc()
}

// AddSamplerShortfall adds to the shortfall counter for a dataset.
func (c *Collector) AddSamplerShortfall(dataset string, count int) {
	SamplerShortfallTotal.WithLabelValues(dataset).Add(float64(count))
}

// IncFallbackQueries increments the global fallback queries counter.
func (c *Collector) IncFallbackQueries() {
	FallbackQueriesTotal.Inc()
}

// AddIndexRepairs adds to the index repairs counter.
func (c *Collector) AddIndexRepairs(count int) {
	IndexRepairsTotal.Add(float64(count))
}

// SetDegradedMode sets the degraded mode gauge.
func (c *Collector) SetDegradedMode(degraded bool) {
	if degraded {
		DegradedMode.Set(1)
	} else {
		DegradedMode.Set(0)
	}
}

// ObserveAllocationDuration records a batch allocation duration observation.
func (c *Collector) ObserveAllocationDuration(seconds float64) {
	AllocationDuration.Observe(seconds)
}
