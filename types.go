// Package workalloc provides the core types for the work item allocation
// engine: weighted sampling of unassigned review work, version-guarded
// claims, and the work item lifecycle state machine.
package workalloc

import "time"

// Status represents the lifecycle state of a work item.
type Status string

const (
	// StatusDraft indicates the item is open for review. A draft item with a
	// non-empty AssignedTo is actively claimed by that owner.
	StatusDraft Status = "draft"

	// StatusApproved indicates the item passed review.
	StatusApproved Status = "approved"

	// StatusSkipped indicates a reviewer declined the item. Skipped items
	// return to the unassigned pool and can be claimed by other owners.
	StatusSkipped Status = "skipped"

	// StatusDeleted indicates the item was soft-deleted. Recoverable only by
	// a later claim moving it back to draft.
	StatusDeleted Status = "deleted"
)

// TerminalStatuses are the statuses a draft item can transition to directly.
// There are no direct transitions between terminal statuses; a terminal item
// first returns to draft via a new claim.
var TerminalStatuses = []Status{StatusApproved, StatusSkipped, StatusDeleted}

// ItemRef addresses a single work item within the store.
type ItemRef struct {
	// DatasetName is the dataset (collection group) the item belongs to.
	DatasetName string `json:"datasetName"`

	// PartitionKey is the opaque storage partition identifier.
	PartitionKey string `json:"partitionKey"`

	// ID is the item id, unique within dataset and partition.
	ID string `json:"id"`
}

// WorkItem is the unit of curation work tracked by the engine.
type WorkItem struct {
	// ID is the item id, unique within dataset and partition.
	ID string `json:"id"`

	// DatasetName is the dataset the item belongs to.
	DatasetName string `json:"datasetName"`

	// PartitionKey is the opaque storage partition identifier.
	PartitionKey string `json:"partitionKey"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// AssignedTo is the owner currently holding the item, empty when the
	// item is unassigned.
	AssignedTo string `json:"assignedTo,omitempty"`

	// AssignedAt is when the current claim was made, nil when unassigned.
	AssignedAt *time.Time `json:"assignedAt,omitempty"`

	// VersionToken is an opaque token that changes on every successful
	// write. Mutations supply their last-known token and fail with
	// ErrVersionConflict when it no longer matches.
	VersionToken string `json:"versionToken,omitempty"`

	// Fields holds the domain content owned by out-of-scope subsystems. The
	// engine carries these opaquely and only merges content changes into
	// them during transitions.
	Fields map[string]any `json:"fields,omitempty"`
}

// Ref returns the store address of the item.
func (w WorkItem) Ref() ItemRef {
	return ItemRef{
		DatasetName:  w.DatasetName,
		PartitionKey: w.PartitionKey,
		ID:           w.ID,
	}
}

// Claimed reports whether the item is actively claimed: assigned and still
// in draft. Terminal statuses carry no active ownership.
func (w WorkItem) Claimed() bool {
	return w.AssignedTo != "" && w.Status == StatusDraft
}

// AllocationWeight assigns a sampling share to a dataset. Weights are
// normalized before use; entries with Weight <= 0 are dropped. An empty or
// all-zero table degrades the sampler to an unweighted global pull.
type AllocationWeight struct {
	// DatasetName is the dataset the weight applies to.
	DatasetName string `json:"datasetName"`

	// Weight is the relative share of sampled work, >= 0.
	Weight float64 `json:"weight"`
}

// AssignmentIndexEntry is a denormalized pointer from an owner to a work
// item they hold. It is a read-side accelerator, never authoritative:
// entries are re-validated against the work item before being trusted, and
// stale entries self-heal on read or during a repair sweep.
type AssignmentIndexEntry struct {
	// OwnerID is the owner holding the item (the index grouping key).
	OwnerID string `json:"ownerId"`

	// DatasetName is the item's dataset.
	DatasetName string `json:"datasetName"`

	// PartitionKey is the item's storage partition.
	PartitionKey string `json:"partitionKey"`

	// WorkItemID is the item id.
	WorkItemID string `json:"workItemId"`
}

// Ref returns the store address of the indexed item.
func (e AssignmentIndexEntry) Ref() ItemRef {
	return ItemRef{
		DatasetName:  e.DatasetName,
		PartitionKey: e.PartitionKey,
		ID:           e.WorkItemID,
	}
}

// Assignment is one row of an owner's "my current assignments" view.
type Assignment struct {
	// Ref addresses the assigned item.
	Ref ItemRef `json:"ref"`

	// Status is the item's status at read time.
	Status Status `json:"status"`

	// VersionToken is the item's current version token, usable as the
	// expected token for a subsequent transition.
	VersionToken string `json:"versionToken"`

	// AssignedAt is when the claim was made.
	AssignedAt *time.Time `json:"assignedAt,omitempty"`
}
