// Package guard is the single choke point for work item mutations. Every
// write carries a version token precondition and an optional domain
// predicate; the guard routes it through the store's conditional-write
// capability tier.
package guard

import (
	"context"
	"sync"

	"github.com/curately/workalloc"
	"github.com/curately/workalloc/store"
)

// Change describes one guarded mutation: the field operations to apply and
// the domain precondition that must hold against the current item state.
type Change struct {
	// Ops are the field operations applied on success.
	Ops []store.FieldOp

	// Predicate is the domain precondition. The zero value always holds.
	Predicate store.Predicate
}

// Config holds configuration for the Guard.
type Config struct {
	// Store is the work item store (required).
	Store store.WorkItemStore

	// AllowDegraded permits running against a TierDegraded store. The
	// degraded path performs a read followed by a token-guarded replace,
	// which leaves a time-of-check-to-time-of-use window between the two
	// calls. Intended only for constrained or local-development backends;
	// New refuses a degraded store without this flag.
	AllowDegraded bool

	// Logger is for observability (optional).
	Logger workalloc.Logger
}

// Guard wraps every mutation with version-token preconditions. On
// TierAtomic stores a mutation is one server round trip; on TierDegraded
// stores it falls back to client-side compare-and-swap.
type Guard struct {
	store        store.WorkItemStore
	logger       workalloc.Logger
	degradedWarn sync.Once
}

// New creates a Guard for the given store. Returns
// workalloc.ErrDegradedNotAllowed when the store reports TierDegraded and
// AllowDegraded is not set.
func New(cfg Config) (*Guard, error) {
	if cfg.Store == nil {
		return nil, workalloc.ErrStoreRequired
	}
	if cfg.Store.Tier() == store.TierDegraded && !cfg.AllowDegraded {
		return nil, workalloc.ErrDegradedNotAllowed
	}
	if cfg.Logger == nil {
		cfg.Logger = workalloc.NopLogger{}
	}

	return &Guard{
		store:  cfg.Store,
		logger: cfg.Logger,
	}, nil
}

// Tier reports the underlying store's capability tier.
func (g *Guard) Tier() store.Tier {
	return g.store.Tier()
}

// Mutate applies the change to the item at ref, guarded by the expected
// version token and the change's predicate. Returns the updated item with
// its new version token.
//
// Failure modes: workalloc.ErrNotFound when the item no longer exists,
// workalloc.ErrVersionConflict when the token does not match, and
// store.ErrPredicateNotSatisfied when the domain precondition does not
// hold. None of them leave side effects.
func (g *Guard) Mutate(ctx context.Context, ref workalloc.ItemRef, expectedToken string, change Change) (workalloc.WorkItem, error) {
	if g.store.Tier() == store.TierAtomic {
		return g.store.PatchItem(ctx, ref, change.Ops, expectedToken, change.Predicate)
	}
	return g.mutateDegraded(ctx, ref, expectedToken, change)
}

// mutateDegraded emulates a conditional patch with a read followed by a
// token-guarded replace. The token and predicate are checked against the
// state read in the first call; a writer that lands between the read and
// the replace is caught by the replace's token guard, but the predicate
// itself is only as fresh as the read.
func (g *Guard) mutateDegraded(ctx context.Context, ref workalloc.ItemRef, expectedToken string, change Change) (workalloc.WorkItem, error) {
	g.degradedWarn.Do(func() {
		g.logger.Warn("store supports no conditional patch, falling back to compare-and-swap",
			"tier", g.store.Tier().String(),
			"datasetName", ref.DatasetName)
	})

	current, err := g.store.GetItem(ctx, ref)
	if err != nil {
		return workalloc.WorkItem{}, err
	}
	if current.VersionToken != expectedToken {
		return workalloc.WorkItem{}, workalloc.ErrVersionConflict
	}
	if !store.EvalPredicate(current, change.Predicate) {
		return workalloc.WorkItem{}, store.ErrPredicateNotSatisfied
	}

	updated := current
	if err := store.ApplyFieldOps(&updated, change.Ops); err != nil {
		return workalloc.WorkItem{}, err
	}

	return g.store.ReplaceItem(ctx, updated, current.VersionToken)
}
