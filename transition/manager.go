// Package transition enforces the work item status state machine. A draft
// item moves to approved, skipped, or deleted in one atomic write that also
// clears its ownership fields; no reader ever observes a terminal status
// with an owner still attached.
package transition

import (
	"context"
	"errors"
	"fmt"

	"github.com/curately/workalloc"
	"github.com/curately/workalloc/guard"
	"github.com/curately/workalloc/index"
	"github.com/curately/workalloc/metrics"
	"github.com/curately/workalloc/store"
)

// Config holds configuration for the Manager.
type Config struct {
	// Store is the work item store (required).
	Store store.WorkItemStore

	// Guard is the concurrency guard all transitions go through (required).
	Guard *guard.Guard

	// Index is the assignment index; the caller's entry is removed
	// best-effort after a successful transition (required).
	Index *index.Index

	// Metrics is the metrics collector (optional).
	Metrics *metrics.Collector

	// Logger is for observability (optional).
	Logger workalloc.Logger
}

// Request describes one status transition.
type Request struct {
	// OwnerID is the caller; must match the item's current AssignedTo.
	OwnerID string

	// Ref addresses the item.
	Ref workalloc.ItemRef

	// ExpectedToken is the caller's last-known version token.
	ExpectedToken string

	// NewStatus is the target status: approved, skipped, or deleted.
	NewStatus workalloc.Status

	// ContentChanges are domain content fields written together with the
	// status change. Core field names (status, assignedTo, assignedAt) are
	// rejected with workalloc.ErrReservedField.
	ContentChanges map[string]any
}

// Manager applies status transitions.
type Manager struct {
	store     store.WorkItemStore
	guard     *guard.Guard
	index     *index.Index
	collector *metrics.Collector
	logger    workalloc.Logger
}

// New creates a new Manager with the given configuration.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, workalloc.ErrStoreRequired
	}
	if cfg.Guard == nil || cfg.Index == nil {
		return nil, workalloc.ErrInvalidConfig
	}
	if cfg.Logger == nil {
		cfg.Logger = workalloc.NopLogger{}
	}

	return &Manager{
		store:     cfg.Store,
		guard:     cfg.Guard,
		index:     cfg.Index,
		collector: cfg.Metrics,
		logger:    cfg.Logger,
	}, nil
}

func terminal(status workalloc.Status) bool {
	for _, s := range workalloc.TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Transition moves a draft item owned by the caller to a terminal status.
// The content changes, the status change, and the ownership clear are one
// atomic write; on success the caller's assignment index entry is removed
// best-effort.
//
// Ownership is checked before the version token is compared, so a caller
// who does not own the item gets workalloc.ErrOwnershipViolation even when
// their token is stale. A transition against a soft-deleted or missing item
// fails with workalloc.ErrNotFound.
func (m *Manager) Transition(ctx context.Context, req Request) (workalloc.WorkItem, error) {
	if !terminal(req.NewStatus) {
		return workalloc.WorkItem{}, workalloc.ErrInvalidTransition
	}
	// Core fields are written by the transition itself; a colliding content
	// change would emit duplicate column assignments on SQL backends and
	// silently win or lose on the others.
	for field := range req.ContentChanges {
		switch field {
		case store.FieldStatus, store.FieldAssignedTo, store.FieldAssignedAt:
			return workalloc.WorkItem{}, fmt.Errorf("content change %q: %w", field, workalloc.ErrReservedField)
		}
	}

	current, err := m.store.GetItem(ctx, req.Ref)
	if err != nil {
		return workalloc.WorkItem{}, err
	}
	if current.Status == workalloc.StatusDeleted {
		return workalloc.WorkItem{}, workalloc.ErrNotFound
	}
	if current.AssignedTo != req.OwnerID {
		if m.collector != nil {
			m.collector.IncOwnershipViolations()
		}
		return workalloc.WorkItem{}, workalloc.ErrOwnershipViolation
	}
	if current.Status != workalloc.StatusDraft {
		return workalloc.WorkItem{}, workalloc.ErrInvalidTransition
	}

	ops := make([]store.FieldOp, 0, len(req.ContentChanges)+3)
	for field, value := range req.ContentChanges {
		ops = append(ops, store.FieldOp{Field: field, Value: value})
	}
	ops = append(ops,
		store.FieldOp{Field: store.FieldStatus, Value: req.NewStatus},
		store.FieldOp{Field: store.FieldAssignedTo, Value: ""},
		store.FieldOp{Field: store.FieldAssignedAt, Value: nil},
	)

	updated, err := m.guard.Mutate(ctx, req.Ref, req.ExpectedToken, guard.Change{
		Ops: ops,
		Predicate: store.Predicate{AnyOf: []store.Cond{
			{Field: store.FieldAssignedTo, Op: store.CondEq, Value: req.OwnerID},
		}},
	})
	if err != nil {
		return workalloc.WorkItem{}, m.classifyFailure(ctx, req, err)
	}

	if derr := m.index.Delete(ctx, req.OwnerID, req.Ref); derr != nil {
		m.logger.Warn("failed to remove assignment index entry after transition",
			"ownerId", req.OwnerID, "workItemId", req.Ref.ID, "error", derr)
	}
	if m.collector != nil {
		m.collector.IncTransitions(string(req.NewStatus))
	}
	return updated, nil
}

// classifyFailure re-reads the item after a failed guarded write so an
// ownership change that landed mid-flight is reported as an ownership
// violation rather than a stale-token race.
func (m *Manager) classifyFailure(ctx context.Context, req Request, err error) error {
	if !errors.Is(err, workalloc.ErrVersionConflict) && !errors.Is(err, store.ErrPredicateNotSatisfied) {
		return err
	}

	current, rerr := m.store.GetItem(ctx, req.Ref)
	if rerr != nil {
		return rerr
	}
	if current.AssignedTo != req.OwnerID {
		if m.collector != nil {
			m.collector.IncOwnershipViolations()
		}
		return workalloc.ErrOwnershipViolation
	}
	if m.collector != nil {
		m.collector.IncVersionConflicts("transition")
	}
	return workalloc.ErrVersionConflict
}
