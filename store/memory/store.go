// Package memory provides an in-memory WorkItemStore for tests and
// examples. It is safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/curately/workalloc"
	"github.com/curately/workalloc/store"
	"github.com/google/uuid"
)

type itemKey struct {
	dataset   string
	partition string
	id        string
}

type entryKey struct {
	owner     string
	dataset   string
	partition string
	id        string
}

// Store is an in-memory implementation of store.WorkItemStore. By default
// it reports TierAtomic and applies patches under its lock; NewDegraded
// returns a store that refuses PatchItem, for exercising the client-side
// compare-and-swap fallback.
type Store struct {
	mu       sync.RWMutex
	tier     store.Tier
	items    map[itemKey]workalloc.WorkItem
	assigned map[entryKey]workalloc.AssignmentIndexEntry
}

var _ store.WorkItemStore = (*Store)(nil)

// New creates an atomic-tier in-memory store.
func New() *Store {
	return newStore(store.TierAtomic)
}

// NewDegraded creates a degraded-tier in-memory store. PatchItem returns
// store.ErrPatchUnsupported, matching backends without server-side
// conditional patch support.
func NewDegraded() *Store {
	return newStore(store.TierDegraded)
}

func newStore(tier store.Tier) *Store {
	return &Store{
		tier:     tier,
		items:    make(map[itemKey]workalloc.WorkItem),
		assigned: make(map[entryKey]workalloc.AssignmentIndexEntry),
	}
}

// Tier reports the configured capability tier.
func (s *Store) Tier() store.Tier {
	return s.tier
}

func keyOf(ref workalloc.ItemRef) itemKey {
	return itemKey{dataset: ref.DatasetName, partition: ref.PartitionKey, id: ref.ID}
}

func copyItem(item workalloc.WorkItem) workalloc.WorkItem {
	out := item
	if item.AssignedAt != nil {
		t := *item.AssignedAt
		out.AssignedAt = &t
	}
	if item.Fields != nil {
		fields := make(map[string]any, len(item.Fields))
		for k, v := range item.Fields {
			fields[k] = v
		}
		out.Fields = fields
	}
	return out
}

// GetItem returns the item at ref.
// Returns workalloc.ErrNotFound if it does not exist.
func (s *Store) GetItem(ctx context.Context, ref workalloc.ItemRef) (workalloc.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[keyOf(ref)]
	if !ok {
		return workalloc.WorkItem{}, workalloc.ErrNotFound
	}
	return copyItem(item), nil
}

// InsertItem creates a new item, minting its first version token.
// Returns workalloc.ErrAlreadyExists if the ref is taken.
func (s *Store) InsertItem(ctx context.Context, item workalloc.WorkItem) (workalloc.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(item.Ref())
	if _, ok := s.items[key]; ok {
		return workalloc.WorkItem{}, workalloc.ErrAlreadyExists
	}

	item.VersionToken = uuid.New().String()
	s.items[key] = copyItem(item)

	return copyItem(item), nil
}

// ReplaceItem overwrites the item guarded by the expected version token.
// Returns workalloc.ErrVersionConflict on a token mismatch and
// workalloc.ErrNotFound if the item does not exist.
func (s *Store) ReplaceItem(ctx context.Context, item workalloc.WorkItem, expectedToken string) (workalloc.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(item.Ref())
	current, ok := s.items[key]
	if !ok {
		return workalloc.WorkItem{}, workalloc.ErrNotFound
	}
	if current.VersionToken != expectedToken {
		return workalloc.WorkItem{}, workalloc.ErrVersionConflict
	}

	item.VersionToken = uuid.New().String()
	s.items[key] = copyItem(item)

	return copyItem(item), nil
}

// PatchItem applies field operations guarded by the expected version token
// and the predicate, all under the store lock. Degraded stores return
// store.ErrPatchUnsupported.
func (s *Store) PatchItem(ctx context.Context, ref workalloc.ItemRef, ops []store.FieldOp, expectedToken string, pred store.Predicate) (workalloc.WorkItem, error) {
	if s.tier == store.TierDegraded {
		return workalloc.WorkItem{}, store.ErrPatchUnsupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(ref)
	current, ok := s.items[key]
	if !ok {
		return workalloc.WorkItem{}, workalloc.ErrNotFound
	}
	if current.VersionToken != expectedToken {
		return workalloc.WorkItem{}, workalloc.ErrVersionConflict
	}
	if !store.EvalPredicate(current, pred) {
		return workalloc.WorkItem{}, store.ErrPredicateNotSatisfied
	}

	updated := copyItem(current)
	if err := store.ApplyFieldOps(&updated, ops); err != nil {
		return workalloc.WorkItem{}, err
	}
	updated.VersionToken = uuid.New().String()
	s.items[key] = copyItem(updated)

	return copyItem(updated), nil
}

// QueryCandidates returns eligible items sorted by dataset name and id.
func (s *Store) QueryCandidates(ctx context.Context, q store.CandidateQuery) ([]workalloc.WorkItem, error) {
	if err := store.ValidateCandidateQuery(q); err != nil {
		return nil, err
	}

	excluded := make(map[workalloc.ItemRef]bool, len(q.ExcludeRefs))
	for _, ref := range q.ExcludeRefs {
		excluded[ref] = true
	}

	s.mu.RLock()
	var matched []workalloc.WorkItem
	for _, item := range s.items {
		if q.DatasetName != "" && item.DatasetName != q.DatasetName {
			continue
		}
		if excluded[item.Ref()] {
			continue
		}
		if store.MatchesCandidate(item, q) {
			matched = append(matched, copyItem(item))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].DatasetName != matched[j].DatasetName {
			return matched[i].DatasetName < matched[j].DatasetName
		}
		return matched[i].ID < matched[j].ID
	})

	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func entryKeyOf(entry workalloc.AssignmentIndexEntry) entryKey {
	return entryKey{
		owner:     entry.OwnerID,
		dataset:   entry.DatasetName,
		partition: entry.PartitionKey,
		id:        entry.WorkItemID,
	}
}

// UpsertAssignment writes an assignment index entry.
func (s *Store) UpsertAssignment(ctx context.Context, entry workalloc.AssignmentIndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assigned[entryKeyOf(entry)] = entry
	return nil
}

// DeleteAssignment removes an assignment index entry if present.
func (s *Store) DeleteAssignment(ctx context.Context, entry workalloc.AssignmentIndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.assigned, entryKeyOf(entry))
	return nil
}

// ListAssignments returns all index entries for one owner, sorted by
// dataset name and item id.
func (s *Store) ListAssignments(ctx context.Context, ownerID string) ([]workalloc.AssignmentIndexEntry, error) {
	s.mu.RLock()
	var entries []workalloc.AssignmentIndexEntry
	for _, entry := range s.assigned {
		if entry.OwnerID == ownerID {
			entries = append(entries, entry)
		}
	}
	s.mu.RUnlock()

	sortEntries(entries)
	return entries, nil
}

// QueryAssignments returns up to limit index entries across all owners.
func (s *Store) QueryAssignments(ctx context.Context, limit int) ([]workalloc.AssignmentIndexEntry, error) {
	if limit <= 0 {
		return nil, store.ErrLimitRequired
	}

	s.mu.RLock()
	entries := make([]workalloc.AssignmentIndexEntry, 0, len(s.assigned))
	for _, entry := range s.assigned {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	sortEntries(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func sortEntries(entries []workalloc.AssignmentIndexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].OwnerID != entries[j].OwnerID {
			return entries[i].OwnerID < entries[j].OwnerID
		}
		if entries[i].DatasetName != entries[j].DatasetName {
			return entries[i].DatasetName < entries[j].DatasetName
		}
		return entries[i].WorkItemID < entries[j].WorkItemID
	})
}
