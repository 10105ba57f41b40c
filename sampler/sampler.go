// Package sampler produces candidate lists of unassigned work distributed
// across datasets according to a weighted allocation table. Reads may be
// stale relative to concurrent writes; staleness is resolved at claim time
// by the allocator's conditional write, not here.
package sampler

import (
	"context"
	"sort"

	"github.com/curately/workalloc"
	"github.com/curately/workalloc/index"
	"github.com/curately/workalloc/metrics"
	"github.com/curately/workalloc/store"
)

// Config holds configuration for the Sampler.
type Config struct {
	// Store is the work item store (required).
	Store store.WorkItemStore

	// Index is the assignment index, used to surface the caller's in-flight
	// work before sampling new candidates (required).
	Index *index.Index

	// Weights is the dataset allocation table. Passed explicitly rather
	// than read from shared state; reloading weights means constructing a
	// new Sampler. An empty or all-zero table selects unweighted sampling.
	Weights []workalloc.AllocationWeight

	// QueryCap bounds the candidate count requested from the store in one
	// query call (default: 100).
	QueryCap int

	// Metrics is the metrics collector (optional).
	Metrics *metrics.Collector

	// Logger is for observability (optional).
	Logger workalloc.Logger
}

// Request describes one sampling pass.
type Request struct {
	// OwnerID is the requesting owner.
	OwnerID string

	// Limit is the total number of items the owner asked for.
	Limit int

	// Exclude removes known items from the candidate pool, e.g. items
	// already claimed in a previous allocator pass.
	Exclude []workalloc.ItemRef
}

// Result is the outcome of a sampling pass.
type Result struct {
	// Assigned are the items already held by the owner, surfaced first and
	// unconditionally. A re-request must not abandon in-flight work.
	Assigned []workalloc.WorkItem

	// Candidates are unclaimed items for the allocator to attempt, at most
	// Limit - len(Assigned) of them.
	Candidates []workalloc.WorkItem
}

// Sampler computes per-dataset quotas and retrieves claim candidates.
type Sampler struct {
	store     store.WorkItemStore
	index     *index.Index
	weights   []workalloc.AllocationWeight
	queryCap  int
	collector *metrics.Collector
	logger    workalloc.Logger
}

// New creates a new Sampler with the given configuration. Weights are
// normalized once here; entries with non-positive weight are dropped.
func New(cfg Config) (*Sampler, error) {
	if cfg.Store == nil {
		return nil, workalloc.ErrStoreRequired
	}
	if cfg.Index == nil {
		return nil, workalloc.ErrInvalidConfig
	}
	if cfg.QueryCap <= 0 {
		cfg.QueryCap = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = workalloc.NopLogger{}
	}

	return &Sampler{
		store:     cfg.Store,
		index:     cfg.Index,
		weights:   NormalizeWeights(cfg.Weights),
		queryCap:  cfg.QueryCap,
		collector: cfg.Metrics,
		logger:    cfg.Logger,
	}, nil
}

// Sample returns the owner's current assignments plus up to
// Limit - len(assigned) new candidates, honoring dataset quotas with one
// shortfall reallocation pass and one global fallback query.
func (s *Sampler) Sample(ctx context.Context, req Request) (Result, error) {
	if req.Limit <= 0 {
		return Result{}, nil
	}

	assigned, err := s.index.Validated(ctx, req.OwnerID)
	if err != nil {
		return Result{}, err
	}
	if len(assigned) >= req.Limit {
		return Result{Assigned: assigned[:req.Limit]}, nil
	}

	remaining := req.Limit - len(assigned)

	exclude := make(map[workalloc.ItemRef]bool, len(req.Exclude)+len(assigned))
	for _, ref := range req.Exclude {
		exclude[ref] = true
	}
	for _, item := range assigned {
		exclude[item.Ref()] = true
	}

	var candidates []workalloc.WorkItem
	if len(s.weights) == 0 {
		candidates, err = s.queryGlobal(ctx, req.OwnerID, remaining, exclude)
	} else {
		candidates, err = s.queryWeighted(ctx, req.OwnerID, remaining, exclude)
	}
	if err != nil {
		return Result{}, err
	}

	if len(candidates) > remaining {
		candidates = candidates[:remaining]
	}
	return Result{Assigned: assigned, Candidates: candidates}, nil
}

// queryWeighted runs the quota pass, the shortfall reallocation pass, and
// the global fallback.
func (s *Sampler) queryWeighted(ctx context.Context, ownerID string, remaining int, exclude map[workalloc.ItemRef]bool) ([]workalloc.WorkItem, error) {
	quotas := ComputeQuotas(s.weights, remaining)

	var (
		candidates []workalloc.WorkItem
		deficit    int
	)
	// Datasets that filled their quota may have more supply to offer in the
	// reallocation pass.
	filled := make(map[string]bool, len(quotas))

	for _, w := range s.weights {
		quota := quotas[w.DatasetName]
		if quota == 0 {
			continue
		}
		if quota > s.queryCap {
			quota = s.queryCap
		}

		items, err := s.queryDataset(ctx, w.DatasetName, ownerID, quota, exclude)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, items...)
		markExcluded(exclude, items)

		if len(items) < quota {
			shortfall := quota - len(items)
			deficit += shortfall
			if s.collector != nil {
				s.collector.AddSamplerShortfall(w.DatasetName, shortfall)
			}
		} else {
			filled[w.DatasetName] = true
		}
	}

	if deficit > 0 {
		items, err := s.reallocate(ctx, ownerID, deficit, filled, exclude)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, items...)
		markExcluded(exclude, items)
	}

	if len(candidates) < remaining {
		residual := remaining - len(candidates)
		items, err := s.queryGlobal(ctx, ownerID, residual, exclude)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, items...)
	}
	return candidates, nil
}

// reallocate redistributes the accumulated shortfall to datasets that still
// have unqueried supply, in descending weight order, one retry pass.
func (s *Sampler) reallocate(ctx context.Context, ownerID string, deficit int, filled map[string]bool, exclude map[workalloc.ItemRef]bool) ([]workalloc.WorkItem, error) {
	order := make([]workalloc.AllocationWeight, 0, len(filled))
	for _, w := range s.weights {
		if filled[w.DatasetName] {
			order = append(order, w)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Weight > order[j].Weight
	})

	var extra []workalloc.WorkItem
	for _, w := range order {
		if deficit <= 0 {
			break
		}

		want := deficit
		if want > s.queryCap {
			want = s.queryCap
		}

		items, err := s.queryDataset(ctx, w.DatasetName, ownerID, want, exclude)
		if err != nil {
			return nil, err
		}
		extra = append(extra, items...)
		markExcluded(exclude, items)
		deficit -= len(items)
	}
	return extra, nil
}

func (s *Sampler) queryDataset(ctx context.Context, dataset, ownerID string, limit int, exclude map[workalloc.ItemRef]bool) ([]workalloc.WorkItem, error) {
	return s.store.QueryCandidates(ctx, store.CandidateQuery{
		DatasetName: dataset,
		OwnerID:     ownerID,
		ExcludeRefs: excludeList(exclude),
		Limit:       limit,
	})
}

func (s *Sampler) queryGlobal(ctx context.Context, ownerID string, limit int, exclude map[workalloc.ItemRef]bool) ([]workalloc.WorkItem, error) {
	if limit > s.queryCap {
		limit = s.queryCap
	}
	if s.collector != nil {
		s.collector.IncFallbackQueries()
	}
	return s.store.QueryCandidates(ctx, store.CandidateQuery{
		CrossDataset: true,
		OwnerID:      ownerID,
		ExcludeRefs:  excludeList(exclude),
		Limit:        limit,
	})
}

func markExcluded(exclude map[workalloc.ItemRef]bool, items []workalloc.WorkItem) {
	for _, item := range items {
		exclude[item.Ref()] = true
	}
}

func excludeList(exclude map[workalloc.ItemRef]bool) []workalloc.ItemRef {
	if len(exclude) == 0 {
		return nil
	}
	refs := make([]workalloc.ItemRef, 0, len(exclude))
	for ref := range exclude {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].DatasetName != refs[j].DatasetName {
			return refs[i].DatasetName < refs[j].DatasetName
		}
		if refs[i].PartitionKey != refs[j].PartitionKey {
			return refs[i].PartitionKey < refs[j].PartitionKey
		}
		return refs[i].ID < refs[j].ID
	})
	return refs
}
