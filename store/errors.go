package store

import "errors"

var (
	// ErrPatchUnsupported indicates the backend cannot perform server-side
	// conditional patches. Reported by TierDegraded backends; the guard
	// falls back to client-side compare-and-swap.
	ErrPatchUnsupported = errors.New("conditional patch not supported by backend")

	// ErrPredicateNotSatisfied indicates the domain precondition of a patch
	// did not hold against the current item state.
	ErrPredicateNotSatisfied = errors.New("patch predicate not satisfied")

	// ErrCrossDatasetRequired indicates a candidate query without a dataset
	// scope was issued without opting in to a cross-dataset scan.
	ErrCrossDatasetRequired = errors.New("cross-dataset query requires explicit opt-in")

	// ErrLimitRequired indicates a bounded query was issued without a limit.
	ErrLimitRequired = errors.New("query limit must be positive")
)
