// Package index maintains the denormalized per-owner assignment index: a
// read-side accelerator for "my current assignments". The index is
// best-effort and never authoritative; entries are re-validated against the
// work item store before being trusted, and stale entries are removed as
// they are found.
package index

import (
	"context"
	"errors"
	"time"

	"github.com/curately/workalloc"
	"github.com/curately/workalloc/metrics"
	"github.com/curately/workalloc/store"
	"golang.org/x/time/rate"
)

// Config holds configuration for the Index.
type Config struct {
	// Store is the work item store (required).
	Store store.WorkItemStore

	// SweepRate caps how many entries per second a repair sweep validates
	// (default: 100/s).
	SweepRate rate.Limit

	// SweepBatch is the maximum number of entries one sweep examines
	// (default: 1000).
	SweepBatch int

	// Metrics is the metrics collector (optional).
	Metrics *metrics.Collector

	// Logger is for observability (optional).
	Logger workalloc.Logger
}

// Index provides access to the assignment index.
type Index struct {
	store      store.WorkItemStore
	limiter    *rate.Limiter
	sweepBatch int
	collector  *metrics.Collector
	logger     workalloc.Logger
}

// New creates a new Index with the given configuration.
// Applies default values for SweepRate and SweepBatch if not set.
func New(cfg Config) (*Index, error) {
	if cfg.Store == nil {
		return nil, workalloc.ErrStoreRequired
	}
	if cfg.SweepRate == 0 {
		cfg.SweepRate = 100
	}
	if cfg.SweepBatch == 0 {
		cfg.SweepBatch = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = workalloc.NopLogger{}
	}

	burst := int(cfg.SweepRate)
	if burst < 1 {
		burst = 1
	}

	return &Index{
		store:      cfg.Store,
		limiter:    rate.NewLimiter(cfg.SweepRate, burst),
		sweepBatch: cfg.SweepBatch,
		collector:  cfg.Metrics,
		logger:     cfg.Logger,
	}, nil
}

// Upsert records that the owner holds the item. Failures are the caller's
// to log; index maintenance never gates the primary mutation.
func (i *Index) Upsert(ctx context.Context, ownerID string, item workalloc.WorkItem) error {
	return i.store.UpsertAssignment(ctx, workalloc.AssignmentIndexEntry{
		OwnerID:      ownerID,
		DatasetName:  item.DatasetName,
		PartitionKey: item.PartitionKey,
		WorkItemID:   item.ID,
	})
}

// Delete removes the owner's entry for the item. Deleting a missing entry
// is not an error.
func (i *Index) Delete(ctx context.Context, ownerID string, ref workalloc.ItemRef) error {
	return i.store.DeleteAssignment(ctx, workalloc.AssignmentIndexEntry{
		OwnerID:      ownerID,
		DatasetName:  ref.DatasetName,
		PartitionKey: ref.PartitionKey,
		WorkItemID:   ref.ID,
	})
}

// ListForOwner returns the raw index entries for one owner, without
// validation. Callers that act on the result use Validated instead.
func (i *Index) ListForOwner(ctx context.Context, ownerID string) ([]workalloc.AssignmentIndexEntry, error) {
	return i.store.ListAssignments(ctx, ownerID)
}

// Validated returns the work items the owner actually holds: each index
// entry is re-checked against the authoritative store, and entries whose
// item is missing, reassigned, or no longer in draft are removed as a side
// effect. The removal is best-effort; a failed removal leaves a stale entry
// for the next read or sweep.
func (i *Index) Validated(ctx context.Context, ownerID string) ([]workalloc.WorkItem, error) {
	entries, err := i.store.ListAssignments(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	var items []workalloc.WorkItem
	for _, entry := range entries {
		item, err := i.store.GetItem(ctx, entry.Ref())
		switch {
		case errors.Is(err, workalloc.ErrNotFound):
			i.heal(ctx, entry)
		case err != nil:
			return nil, err
		case item.AssignedTo != ownerID || item.Status != workalloc.StatusDraft:
			i.heal(ctx, entry)
		default:
			items = append(items, item)
		}
	}
	return items, nil
}

// Assignments returns the owner's validated "my current assignments" view.
func (i *Index) Assignments(ctx context.Context, ownerID string) ([]workalloc.Assignment, error) {
	items, err := i.Validated(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	assignments := make([]workalloc.Assignment, 0, len(items))
	for _, item := range items {
		assignments = append(assignments, workalloc.Assignment{
			Ref:          item.Ref(),
			Status:       item.Status,
			VersionToken: item.VersionToken,
			AssignedAt:   item.AssignedAt,
		})
	}
	return assignments, nil
}

// Sweep validates up to SweepBatch entries across all owners and removes
// the stale ones, paced by the configured rate. Returns the number of
// entries removed. Sweep is idempotent and safe to run concurrently with
// normal operation.
func (i *Index) Sweep(ctx context.Context) (int, error) {
	entries, err := i.store.QueryAssignments(ctx, i.sweepBatch)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if err := i.limiter.Wait(ctx); err != nil {
			return removed, err
		}

		item, err := i.store.GetItem(ctx, entry.Ref())
		switch {
		case errors.Is(err, workalloc.ErrNotFound):
			if i.heal(ctx, entry) {
				removed++
			}
		case err != nil:
			return removed, err
		case item.AssignedTo != entry.OwnerID || item.Status != workalloc.StatusDraft:
			if i.heal(ctx, entry) {
				removed++
			}
		}
	}

	if removed > 0 {
		i.logger.Info("assignment index sweep removed stale entries",
			"examined", len(entries), "removed", removed)
	}
	return removed, nil
}

// heal removes a stale entry, logging instead of failing.
func (i *Index) heal(ctx context.Context, entry workalloc.AssignmentIndexEntry) bool {
	if err := i.store.DeleteAssignment(ctx, entry); err != nil {
		i.logger.Warn("failed to remove stale assignment index entry",
			"ownerId", entry.OwnerID,
			"workItemId", entry.WorkItemID,
			"error", err)
		return false
	}
	if i.collector != nil {
		i.collector.AddIndexRepairs(1)
	}
	return true
}

// SweepInterval is a suggested cadence for periodic sweeps; callers own the
// schedule.
const SweepInterval = 5 * time.Minute
