// Package store defines the partitioned work item store abstraction and the
// conditional-write capability tiers backends can offer.
package store

import (
	"context"

	"github.com/curately/workalloc"
)

// Tier classifies a backend's conditional-write capability. The tier is
// fixed at construction time; callers never discover a missing capability
// per call.
type Tier int

const (
	// TierAtomic backends support PatchItem: a single server round trip that
	// applies field operations guarded by both the version token and a
	// domain predicate.
	TierAtomic Tier = iota

	// TierDegraded backends support only point reads and token-guarded
	// replaces. Mutations fall back to client-side compare-and-swap with a
	// time-of-check-to-time-of-use window between the read and the write.
	// Intended for constrained or local-development backends only.
	TierDegraded
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierAtomic:
		return "atomic"
	case TierDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Core work item fields addressable by FieldOp and Cond. Any other field
// name targets the item's domain content.
const (
	FieldStatus     = "status"
	FieldAssignedTo = "assignedTo"
	FieldAssignedAt = "assignedAt"
)

// FieldOp sets a single field to a value. Core fields mutate the work item
// directly; other field names merge into the item's content fields.
type FieldOp struct {
	Field string
	Value any
}

// CondOp is a predicate comparison operator.
type CondOp int

const (
	// CondEq holds when the field equals Value.
	CondEq CondOp = iota

	// CondNotEq holds when the field differs from Value.
	CondNotEq

	// CondEmpty holds when the field is empty.
	CondEmpty
)

// Cond is a single comparison on a core work item field.
type Cond struct {
	Field string
	Op    CondOp
	Value string
}

// Predicate is a domain precondition on a mutation. It is satisfied when
// any clause holds; the zero value is always satisfied.
type Predicate struct {
	AnyOf []Cond
}

// Empty reports whether the predicate has no clauses.
func (p Predicate) Empty() bool {
	return len(p.AnyOf) == 0
}

// CandidateQuery selects work items eligible for sampling: items in draft
// with no owner, or skipped items last seen assigned to someone other than
// the requesting owner.
type CandidateQuery struct {
	// DatasetName scopes the query to one dataset. Required unless
	// CrossDataset is set.
	DatasetName string

	// CrossDataset opts in to a cross-dataset scan. These are explicitly
	// more expensive and are used only for the sampler's global fallback.
	CrossDataset bool

	// OwnerID is the requesting owner; skipped items still showing this
	// owner are excluded.
	OwnerID string

	// ExcludeRefs removes already-collected items from the result. Full refs
	// rather than bare ids because ids are only unique within a dataset and
	// partition.
	ExcludeRefs []workalloc.ItemRef

	// Limit bounds the scan. Required, must be > 0.
	Limit int
}

// WorkItemStore is the partitioned document store the engine runs against.
// Implementations must be safe for concurrent use. Every successful
// mutation mints a new version token; a mutation whose expected token does
// not match the stored one fails with workalloc.ErrVersionConflict without
// side effects.
type WorkItemStore interface {
	// Tier reports the backend's conditional-write capability tier.
	Tier() Tier

	// GetItem returns the item at ref.
	// Returns workalloc.ErrNotFound if it does not exist.
	GetItem(ctx context.Context, ref workalloc.ItemRef) (workalloc.WorkItem, error)

	// InsertItem creates a new item, minting its first version token.
	// Returns workalloc.ErrAlreadyExists if the ref is taken.
	InsertItem(ctx context.Context, item workalloc.WorkItem) (workalloc.WorkItem, error)

	// ReplaceItem overwrites the item guarded by the expected version token
	// and returns the stored item with its new token.
	// Returns workalloc.ErrVersionConflict if the token does not match and
	// workalloc.ErrNotFound if the item does not exist.
	ReplaceItem(ctx context.Context, item workalloc.WorkItem, expectedToken string) (workalloc.WorkItem, error)

	// PatchItem applies field operations in one server round trip, guarded
	// by the expected version token and the predicate. Only available on
	// TierAtomic backends; TierDegraded backends return ErrPatchUnsupported.
	// Failures are classified as workalloc.ErrNotFound,
	// workalloc.ErrVersionConflict, or ErrPredicateNotSatisfied.
	PatchItem(ctx context.Context, ref workalloc.ItemRef, ops []FieldOp, expectedToken string, pred Predicate) (workalloc.WorkItem, error)

	// QueryCandidates returns sampling candidates matching q, in a stable
	// order. The scan is bounded by q.Limit; results may be stale relative
	// to concurrent writes and are re-checked at claim time.
	QueryCandidates(ctx context.Context, q CandidateQuery) ([]workalloc.WorkItem, error)

	// UpsertAssignment writes an assignment index entry. Idempotent.
	UpsertAssignment(ctx context.Context, entry workalloc.AssignmentIndexEntry) error

	// DeleteAssignment removes an assignment index entry. Deleting a
	// missing entry is not an error.
	DeleteAssignment(ctx context.Context, entry workalloc.AssignmentIndexEntry) error

	// ListAssignments returns all index entries for one owner.
	ListAssignments(ctx context.Context, ownerID string) ([]workalloc.AssignmentIndexEntry, error)

	// QueryAssignments returns up to limit index entries across all owners,
	// for the repair sweep.
	QueryAssignments(ctx context.Context, limit int) ([]workalloc.AssignmentIndexEntry, error)
}
