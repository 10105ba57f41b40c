package store

import (
	"fmt"
	"time"

	"github.com/curately/workalloc"
)

// ApplyFieldOps applies field operations to an item in place. Core fields
// mutate the typed struct; any other field name merges into the item's
// content fields. Used by TierDegraded mutation paths and by in-memory
// backends; TierAtomic backends translate the same operations server-side.
func ApplyFieldOps(item *workalloc.WorkItem, ops []FieldOp) error {
	for _, op := range ops {
		switch op.Field {
		case FieldStatus:
			switch v := op.Value.(type) {
			case workalloc.Status:
				item.Status = v
			case string:
				item.Status = workalloc.Status(v)
			default:
				return fmt.Errorf("field %s: unsupported value type %T", op.Field, op.Value)
			}
		case FieldAssignedTo:
			v, ok := op.Value.(string)
			if !ok {
				return fmt.Errorf("field %s: unsupported value type %T", op.Field, op.Value)
			}
			item.AssignedTo = v
		case FieldAssignedAt:
			switch v := op.Value.(type) {
			case nil:
				item.AssignedAt = nil
			case time.Time:
				t := v
				item.AssignedAt = &t
			case *time.Time:
				item.AssignedAt = v
			default:
				return fmt.Errorf("field %s: unsupported value type %T", op.Field, op.Value)
			}
		default:
			if item.Fields == nil {
				item.Fields = make(map[string]any)
			}
			item.Fields[op.Field] = op.Value
		}
	}
	return nil
}

// EvalPredicate reports whether the predicate holds against the item. Only
// core fields are addressable; an unknown field makes its clause false.
func EvalPredicate(item workalloc.WorkItem, pred Predicate) bool {
	if pred.Empty() {
		return true
	}
	for _, cond := range pred.AnyOf {
		if evalCond(item, cond) {
			return true
		}
	}
	return false
}

func evalCond(item workalloc.WorkItem, cond Cond) bool {
	var current string
	switch cond.Field {
	case FieldStatus:
		current = string(item.Status)
	case FieldAssignedTo:
		current = item.AssignedTo
	default:
		return false
	}

	switch cond.Op {
	case CondEq:
		return current == cond.Value
	case CondNotEq:
		return current != cond.Value
	case CondEmpty:
		return current == ""
	default:
		return false
	}
}

// MatchesCandidate reports whether the item satisfies the fixed sampling
// eligibility filter of q: draft and unassigned, or skipped and last seen
// assigned to a different owner. Dataset scope and exclusions are applied
// by the caller.
func MatchesCandidate(item workalloc.WorkItem, q CandidateQuery) bool {
	if item.Status == workalloc.StatusDraft && item.AssignedTo == "" {
		return true
	}
	if item.Status == workalloc.StatusSkipped && item.AssignedTo != q.OwnerID {
		return true
	}
	return false
}

// ValidateCandidateQuery checks the structural requirements of q.
func ValidateCandidateQuery(q CandidateQuery) error {
	if q.Limit <= 0 {
		return ErrLimitRequired
	}
	if q.DatasetName == "" && !q.CrossDataset {
		return ErrCrossDatasetRequired
	}
	return nil
}
