// Package engine wires the sampler, allocator, transition manager, and
// assignment index into the caller-facing allocation API: self-serve batch
// allocation, single-item assign and takeover, status transitions, and the
// "my current assignments" view.
package engine

import (
	"context"
	"fmt"

	rootpkg "github.com/curately/workalloc"
	"github.com/curately/workalloc/allocator"
	"github.com/curately/workalloc/guard"
	"github.com/curately/workalloc/index"
	"github.com/curately/workalloc/metrics"
	"github.com/curately/workalloc/sampler"
	"github.com/curately/workalloc/store"
	"github.com/curately/workalloc/transition"
	"golang.org/x/time/rate"
)

// Re-export core types from root package
type (
	// WorkItem is the unit of curation work tracked by the engine.
	WorkItem = rootpkg.WorkItem

	// ItemRef addresses a single work item within the store.
	ItemRef = rootpkg.ItemRef

	// Status represents the lifecycle state of a work item.
	Status = rootpkg.Status

	// AllocationWeight assigns a sampling share to a dataset.
	AllocationWeight = rootpkg.AllocationWeight

	// Assignment is one row of an owner's "my current assignments" view.
	Assignment = rootpkg.Assignment
)

// Option configures an Engine.
type Option func(*config)

// config holds the internal configuration for creating an Engine.
type config struct {
	store         store.WorkItemStore
	weights       []AllocationWeight
	queryCap      int
	allowDegraded bool
	noCompensate  bool
	sweepRate     rate.Limit
	sweepBatch    int
	logger        rootpkg.Logger
	collector     *metrics.Collector
}

// WithStore sets the work item store (required).
func WithStore(s store.WorkItemStore) Option {
	return func(c *config) { c.store = s }
}

// WithWeights sets the dataset allocation table. Reloading weights means
// constructing a new Engine; there is no shared mutable weight state.
func WithWeights(weights []AllocationWeight) Option {
	return func(c *config) { c.weights = weights }
}

// WithQueryCap bounds the candidates requested from the store in one query
// call (default: 100).
func WithQueryCap(n int) Option {
	return func(c *config) { c.queryCap = n }
}

// WithAllowDegraded permits running against a degraded-tier store. The
// degraded compare-and-swap fallback carries a known race window and is
// intended only for constrained or local-development backends.
func WithAllowDegraded() Option {
	return func(c *config) { c.allowDegraded = true }
}

// WithoutCompensation disables the allocator's compensating sample pass
// after races lost in the first claim pass.
func WithoutCompensation() Option {
	return func(c *config) { c.noCompensate = true }
}

// WithSweepPacing configures the index repair sweep: at most rps entry
// validations per second, at most batch entries per sweep.
func WithSweepPacing(rps rate.Limit, batch int) Option {
	return func(c *config) {
		c.sweepRate = rps
		c.sweepBatch = batch
	}
}

// WithLogger sets the logger for observability (default: none).
func WithLogger(logger rootpkg.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithMetricsCollector sets a custom metrics collector (default: a fresh
// collector over the package-level Prometheus metrics).
func WithMetricsCollector(collector *metrics.Collector) Option {
	return func(c *config) { c.collector = collector }
}

// Engine is the caller-facing allocation API.
type Engine struct {
	store       store.WorkItemStore
	guard       *guard.Guard
	sampler     *sampler.Sampler
	allocator   *allocator.Allocator
	transitions *transition.Manager
	index       *index.Index
	logger      rootpkg.Logger
}

// New creates a new Engine with the given options.
//
// Required options:
//   - WithStore: the work item store backend
//
// Optional configuration (with defaults):
//   - WithWeights: dataset allocation table (default: unweighted sampling)
//   - WithQueryCap: per-query candidate cap (default: 100)
//   - WithAllowDegraded: opt in to degraded-tier stores (default: refused)
//   - WithoutCompensation: disable the compensating claim pass
//   - WithSweepPacing: index sweep rate and batch (default: 100/s, 1000)
//   - WithLogger: logger for observability (default: none)
//   - WithMetricsCollector: custom metrics collector
//
// Returns an error if the store is missing, or if the store is degraded
// tier and WithAllowDegraded was not given.
func New(opts ...Option) (*Engine, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.store == nil {
		return nil, fmt.Errorf("store is required: use WithStore option")
	}
	if cfg.logger == nil {
		cfg.logger = rootpkg.NopLogger{}
	}
	if cfg.collector == nil {
		cfg.collector = metrics.NewCollector()
	}
	cfg.collector.SetDegradedMode(cfg.store.Tier() == store.TierDegraded)

	g, err := guard.New(guard.Config{
		Store:         cfg.store,
		AllowDegraded: cfg.allowDegraded,
		Logger:        cfg.logger,
	})
	if err != nil {
		return nil, err
	}

	idx, err := index.New(index.Config{
		Store:      cfg.store,
		SweepRate:  cfg.sweepRate,
		SweepBatch: cfg.sweepBatch,
		Metrics:    cfg.collector,
		Logger:     cfg.logger,
	})
	if err != nil {
		return nil, err
	}

	smp, err := sampler.New(sampler.Config{
		Store:    cfg.store,
		Index:    idx,
		Weights:  cfg.weights,
		QueryCap: cfg.queryCap,
		Metrics:  cfg.collector,
		Logger:   cfg.logger,
	})
	if err != nil {
		return nil, err
	}

	alloc, err := allocator.New(allocator.Config{
		Store:               cfg.store,
		Guard:               g,
		Sampler:             smp,
		Index:               idx,
		DisableCompensation: cfg.noCompensate,
		Metrics:             cfg.collector,
		Logger:              cfg.logger,
	})
	if err != nil {
		return nil, err
	}

	trans, err := transition.New(transition.Config{
		Store:   cfg.store,
		Guard:   g,
		Index:   idx,
		Metrics: cfg.collector,
		Logger:  cfg.logger,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:       cfg.store,
		guard:       g,
		sampler:     smp,
		allocator:   alloc,
		transitions: trans,
		index:       idx,
		logger:      cfg.logger,
	}, nil
}

// Allocate claims up to limit items for the owner, surfacing in-flight
// assignments first. Fewer items than requested means supply ran out; it is
// a successful outcome, never an error.
func (e *Engine) Allocate(ctx context.Context, ownerID string, limit int) ([]WorkItem, error) {
	return e.allocator.AllocateBatch(ctx, ownerID, limit)
}

// Assign claims one named item for the owner. Returns
// workalloc.ErrAlreadyAssigned when a different owner holds the item in
// draft, so the caller can offer a takeover.
func (e *Engine) Assign(ctx context.Context, ownerID string, ref ItemRef) (WorkItem, error) {
	return e.allocator.Assign(ctx, ownerID, ref)
}

// Takeover claims one named item ignoring current ownership. Callers are
// responsible for authorizing this separately.
func (e *Engine) Takeover(ctx context.Context, ownerID string, ref ItemRef) (WorkItem, error) {
	return e.allocator.Takeover(ctx, ownerID, ref)
}

// Transition moves a draft item owned by the caller to approved, skipped,
// or deleted, clearing ownership in the same write.
func (e *Engine) Transition(ctx context.Context, ownerID string, ref ItemRef, expectedToken string, newStatus Status, contentChanges map[string]any) (WorkItem, error) {
	return e.transitions.Transition(ctx, transition.Request{
		OwnerID:        ownerID,
		Ref:            ref,
		ExpectedToken:  expectedToken,
		NewStatus:      newStatus,
		ContentChanges: contentChanges,
	})
}

// MyAssignments returns the owner's validated current assignments.
func (e *Engine) MyAssignments(ctx context.Context, ownerID string) ([]Assignment, error) {
	return e.index.Assignments(ctx, ownerID)
}

// Import bulk-creates work items as unassigned drafts. Items that already
// exist are reported per item; earlier inserts are not rolled back.
func (e *Engine) Import(ctx context.Context, items []WorkItem) error {
	for _, item := range items {
		item.Status = rootpkg.StatusDraft
		item.AssignedTo = ""
		item.AssignedAt = nil
		if _, err := e.store.InsertItem(ctx, item); err != nil {
			return fmt.Errorf("failed to import item %s/%s: %w", item.DatasetName, item.ID, err)
		}
	}
	return nil
}

// SweepIndex runs one assignment index repair pass and returns the number
// of stale entries removed.
func (e *Engine) SweepIndex(ctx context.Context) (int, error) {
	return e.index.Sweep(ctx)
}
