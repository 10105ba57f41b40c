// Package allocator converts sampler candidates into actual claims. Claims
// are attempted one item at a time through the concurrency guard; losing a
// race on one candidate skips to the next instead of aborting the batch.
package allocator

import (
	"context"
	"errors"
	"time"

	"github.com/curately/workalloc"
	"github.com/curately/workalloc/guard"
	"github.com/curately/workalloc/index"
	"github.com/curately/workalloc/metrics"
	"github.com/curately/workalloc/sampler"
	"github.com/curately/workalloc/store"
)

// Config holds configuration for the Allocator.
type Config struct {
	// Store is the work item store (required).
	Store store.WorkItemStore

	// Guard is the concurrency guard all claims go through (required).
	Guard *guard.Guard

	// Sampler produces claim candidates (required).
	Sampler *sampler.Sampler

	// Index is the assignment index, updated best-effort after each
	// successful claim (required).
	Index *index.Index

	// Compensate enables one additional sampler pass when the first claim
	// pass falls short because of lost races (default: true). Set
	// DisableCompensation to turn it off.
	DisableCompensation bool

	// Metrics is the metrics collector (optional).
	Metrics *metrics.Collector

	// Logger is for observability (optional).
	Logger workalloc.Logger

	// Now returns the current time; overridable in tests (default: time.Now).
	Now func() time.Time
}

// Allocator claims work items for owners.
type Allocator struct {
	store      store.WorkItemStore
	guard      *guard.Guard
	sampler    *sampler.Sampler
	index      *index.Index
	compensate bool
	collector  *metrics.Collector
	logger     workalloc.Logger
	now        func() time.Time
}

// New creates a new Allocator with the given configuration.
func New(cfg Config) (*Allocator, error) {
	if cfg.Store == nil {
		return nil, workalloc.ErrStoreRequired
	}
	if cfg.Guard == nil || cfg.Sampler == nil || cfg.Index == nil {
		return nil, workalloc.ErrInvalidConfig
	}
	if cfg.Logger == nil {
		cfg.Logger = workalloc.NopLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Allocator{
		store:      cfg.Store,
		guard:      cfg.Guard,
		sampler:    cfg.Sampler,
		index:      cfg.Index,
		compensate: !cfg.DisableCompensation,
		collector:  cfg.Metrics,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}, nil
}

// claimPredicate allows claiming unassigned items, the caller's own items,
// and items whose status is not draft: a non-draft item carries no active
// ownership, so reclaiming it (reopening) is legitimate.
func claimPredicate(ownerID string) store.Predicate {
	return store.Predicate{AnyOf: []store.Cond{
		{Field: store.FieldAssignedTo, Op: store.CondEmpty},
		{Field: store.FieldAssignedTo, Op: store.CondEq, Value: ownerID},
		{Field: store.FieldStatus, Op: store.CondNotEq, Value: string(workalloc.StatusDraft)},
	}}
}

func claimOps(ownerID string, at time.Time) []store.FieldOp {
	return []store.FieldOp{
		{Field: store.FieldStatus, Value: workalloc.StatusDraft},
		{Field: store.FieldAssignedTo, Value: ownerID},
		{Field: store.FieldAssignedAt, Value: at},
	}
}

// claimLost reports whether the error means another caller won the race for
// this candidate. Such errors never abort a batch.
func claimLost(err error) bool {
	return errors.Is(err, workalloc.ErrVersionConflict) ||
		errors.Is(err, store.ErrPredicateNotSatisfied) ||
		errors.Is(err, workalloc.ErrNotFound)
}

// AllocateBatch claims up to limit items for the owner. The owner's
// in-flight assignments are surfaced first; new claims fill the rest.
// Returning fewer than limit items because supply ran out is a successful
// outcome, not an error. Claims already committed are never rolled back,
// even when a later step fails.
func (a *Allocator) AllocateBatch(ctx context.Context, ownerID string, limit int) ([]workalloc.WorkItem, error) {
	start := a.now()
	if a.collector != nil {
		a.collector.IncAllocationRequests()
		defer func() {
			a.collector.ObserveAllocationDuration(a.now().Sub(start).Seconds())
		}()
	}

	if limit <= 0 {
		return nil, nil
	}

	res, err := a.sampler.Sample(ctx, sampler.Request{OwnerID: ownerID, Limit: limit})
	if err != nil {
		return nil, err
	}

	items := res.Assigned
	claimed, err := a.claimCandidates(ctx, ownerID, res.Candidates, limit-len(items))
	items = append(items, claimed...)
	if err != nil {
		return items, err
	}

	// Races lost in the first pass can leave the batch short while supply
	// remains; one compensating sample pass picks up the difference.
	if a.compensate && len(items) < limit && len(res.Candidates) > len(claimed) {
		exclude := make([]workalloc.ItemRef, 0, len(items))
		for _, item := range items {
			exclude = append(exclude, item.Ref())
		}

		res, err = a.sampler.Sample(ctx, sampler.Request{OwnerID: ownerID, Limit: limit, Exclude: exclude})
		if err != nil {
			return items, err
		}
		claimed, err = a.claimCandidates(ctx, ownerID, res.Candidates, limit-len(items))
		items = append(items, claimed...)
		if err != nil {
			return items, err
		}
	}

	if a.collector != nil {
		a.collector.AddItemsAllocated(len(items))
	}
	if len(items) < limit {
		a.logger.Debug("allocation exhausted available supply",
			"ownerId", ownerID, "requested", limit, "allocated", len(items))
	}
	return items, nil
}

// claimCandidates attempts candidates in order until want claims succeed or
// the list is exhausted.
func (a *Allocator) claimCandidates(ctx context.Context, ownerID string, candidates []workalloc.WorkItem, want int) ([]workalloc.WorkItem, error) {
	var claimed []workalloc.WorkItem
	for _, candidate := range candidates {
		if len(claimed) >= want {
			break
		}

		updated, err := a.guard.Mutate(ctx, candidate.Ref(), candidate.VersionToken, guard.Change{
			Ops:       claimOps(ownerID, a.now()),
			Predicate: claimPredicate(ownerID),
		})
		if claimLost(err) {
			if a.collector != nil {
				a.collector.IncClaimConflicts(candidate.DatasetName)
			}
			continue
		}
		if err != nil {
			return claimed, err
		}

		claimed = append(claimed, updated)
		if a.collector != nil {
			a.collector.IncClaims(updated.DatasetName)
		}
		a.recordAssignment(ctx, ownerID, updated)
	}
	return claimed, nil
}

// Assign claims one named item for the owner. A claim that fails because a
// different owner holds the item in draft surfaces
// workalloc.ErrAlreadyAssigned, distinct from a version conflict, so the
// caller can offer a takeover.
func (a *Allocator) Assign(ctx context.Context, ownerID string, ref workalloc.ItemRef) (workalloc.WorkItem, error) {
	return a.assign(ctx, ownerID, ref, false)
}

// Takeover claims one named item ignoring current ownership. Reserved for
// an explicitly authorized force-assign path. The previous owner's index
// entry is invalidated best-effort.
func (a *Allocator) Takeover(ctx context.Context, ownerID string, ref workalloc.ItemRef) (workalloc.WorkItem, error) {
	return a.assign(ctx, ownerID, ref, true)
}

func (a *Allocator) assign(ctx context.Context, ownerID string, ref workalloc.ItemRef, force bool) (workalloc.WorkItem, error) {
	current, err := a.store.GetItem(ctx, ref)
	if err != nil {
		return workalloc.WorkItem{}, err
	}
	if current.AssignedTo == ownerID && current.Status == workalloc.StatusDraft {
		// Already held by the caller; claiming is idempotent.
		return current, nil
	}

	change := guard.Change{Ops: claimOps(ownerID, a.now())}
	if !force {
		change.Predicate = claimPredicate(ownerID)
	}

	updated, err := a.guard.Mutate(ctx, ref, current.VersionToken, change)
	if err != nil {
		return workalloc.WorkItem{}, a.classifyAssignFailure(ctx, ownerID, ref, err)
	}

	if force && current.Claimed() && current.AssignedTo != ownerID {
		if derr := a.index.Delete(ctx, current.AssignedTo, ref); derr != nil {
			a.logger.Warn("failed to invalidate previous owner's index entry",
				"ownerId", current.AssignedTo, "workItemId", ref.ID, "error", derr)
		}
	}

	a.recordAssignment(ctx, ownerID, updated)
	if a.collector != nil {
		a.collector.IncClaims(updated.DatasetName)
	}
	return updated, nil
}

// classifyAssignFailure distinguishes an item held by another owner in
// draft from a plain stale-token race.
func (a *Allocator) classifyAssignFailure(ctx context.Context, ownerID string, ref workalloc.ItemRef, err error) error {
	if !claimLost(err) {
		return err
	}
	if errors.Is(err, workalloc.ErrNotFound) {
		return workalloc.ErrNotFound
	}

	current, rerr := a.store.GetItem(ctx, ref)
	if rerr != nil {
		return rerr
	}
	if current.Claimed() && current.AssignedTo != ownerID {
		return workalloc.ErrAlreadyAssigned
	}
	if a.collector != nil {
		a.collector.IncVersionConflicts("assign")
	}
	return workalloc.ErrVersionConflict
}

// recordAssignment mirrors a successful claim into the assignment index.
// Best-effort: the claim is the source of truth, an index failure is only
// logged and self-heals on the next validated read or sweep.
func (a *Allocator) recordAssignment(ctx context.Context, ownerID string, item workalloc.WorkItem) {
	if err := a.index.Upsert(ctx, ownerID, item); err != nil {
		a.logger.Warn("failed to record assignment index entry",
			"ownerId", ownerID, "workItemId", item.ID, "error", err)
	}
}
