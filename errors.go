package workalloc

import "errors"

// Sentinel errors returned by the allocation engine. All of them are local,
// per-operation failures recovered by the caller; the engine never retries a
// conflicting write on its own.
var (
	// ErrNotFound indicates the work item or index entry does not exist.
	// Transitions against a soft-deleted item also fail this way.
	ErrNotFound = errors.New("work item not found")

	// ErrVersionConflict indicates the supplied version token no longer
	// matches the stored one. The caller must re-read and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrOwnershipViolation indicates the caller is not the current owner of
	// the draft item they are trying to transition. Not retryable.
	ErrOwnershipViolation = errors.New("caller does not own the work item")

	// ErrAlreadyAssigned indicates a single-item assign hit an item held by
	// a different owner in draft state. Distinct from ErrVersionConflict so
	// callers can offer a takeover.
	ErrAlreadyAssigned = errors.New("work item already assigned to another owner")

	// ErrAlreadyExists indicates an import collided with an existing item.
	ErrAlreadyExists = errors.New("work item already exists")

	// ErrInvalidTransition indicates the requested status change is not a
	// legal move in the work item state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrReservedField indicates a content change targets a core work item
	// field (status, assignedTo, assignedAt). Core fields move only through
	// the engine's own operations.
	ErrReservedField = errors.New("content change targets a reserved field")

	// ErrInvalidConfig is returned when a component configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStoreRequired is returned when a required store is nil.
	ErrStoreRequired = errors.New("work item store is required")

	// ErrDegradedNotAllowed is returned when a degraded-tier store is used
	// without explicitly opting in. Degraded tier falls back to client-side
	// compare-and-swap with a known race window and is intended only for
	// constrained or local-development backends.
	ErrDegradedNotAllowed = errors.New("degraded-tier store not allowed")
)
