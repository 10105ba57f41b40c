package store

import (
	"context"
	"sync"

	"github.com/curately/workalloc"
)

// MockWorkItemStore is a configurable mock implementation of WorkItemStore
// for use in tests. It allows setting up expected return values, tracking
// method calls, and injecting errors for testing error paths.
type MockWorkItemStore struct {
	mu sync.RWMutex

	// TierValue is returned by Tier. Defaults to TierAtomic.
	TierValue Tier

	// GetItemFunc is called by GetItem if set.
	GetItemFunc func(ctx context.Context, ref workalloc.ItemRef) (workalloc.WorkItem, error)

	// InsertItemFunc is called by InsertItem if set.
	InsertItemFunc func(ctx context.Context, item workalloc.WorkItem) (workalloc.WorkItem, error)

	// ReplaceItemFunc is called by ReplaceItem if set.
	ReplaceItemFunc func(ctx context.Context, item workalloc.WorkItem, expectedToken string) (workalloc.WorkItem, error)

	// PatchItemFunc is called by PatchItem if set.
	PatchItemFunc func(ctx context.Context, ref workalloc.ItemRef, ops []FieldOp, expectedToken string, pred Predicate) (workalloc.WorkItem, error)

	// QueryCandidatesFunc is called by QueryCandidates if set.
	QueryCandidatesFunc func(ctx context.Context, q CandidateQuery) ([]workalloc.WorkItem, error)

	// UpsertAssignmentFunc is called by UpsertAssignment if set.
	UpsertAssignmentFunc func(ctx context.Context, entry workalloc.AssignmentIndexEntry) error

	// DeleteAssignmentFunc is called by DeleteAssignment if set.
	DeleteAssignmentFunc func(ctx context.Context, entry workalloc.AssignmentIndexEntry) error

	// ListAssignmentsFunc is called by ListAssignments if set.
	ListAssignmentsFunc func(ctx context.Context, ownerID string) ([]workalloc.AssignmentIndexEntry, error)

	// QueryAssignmentsFunc is called by QueryAssignments if set.
	QueryAssignmentsFunc func(ctx context.Context, limit int) ([]workalloc.AssignmentIndexEntry, error)

	// Call tracking
	GetItemCalls          []GetItemCall
	InsertItemCalls       []InsertItemCall
	ReplaceItemCalls      []ReplaceItemCall
	PatchItemCalls        []PatchItemCall
	QueryCandidatesCalls  []QueryCandidatesCall
	UpsertAssignmentCalls []AssignmentCall
	DeleteAssignmentCalls []AssignmentCall
	ListAssignmentsCalls  []ListAssignmentsCall
	QueryAssignmentsCalls []QueryAssignmentsCall
}

// GetItemCall records a call to GetItem.
type GetItemCall struct {
	Ref workalloc.ItemRef
}

// InsertItemCall records a call to InsertItem.
type InsertItemCall struct {
	Item workalloc.WorkItem
}

// ReplaceItemCall records a call to ReplaceItem.
type ReplaceItemCall struct {
	Item          workalloc.WorkItem
	ExpectedToken string
}

// PatchItemCall records a call to PatchItem.
type PatchItemCall struct {
	Ref           workalloc.ItemRef
	Ops           []FieldOp
	ExpectedToken string
	Pred          Predicate
}

// QueryCandidatesCall records a call to QueryCandidates.
type QueryCandidatesCall struct {
	Query CandidateQuery
}

// AssignmentCall records a call to UpsertAssignment or DeleteAssignment.
type AssignmentCall struct {
	Entry workalloc.AssignmentIndexEntry
}

// ListAssignmentsCall records a call to ListAssignments.
type ListAssignmentsCall struct {
	OwnerID string
}

// QueryAssignmentsCall records a call to QueryAssignments.
type QueryAssignmentsCall struct {
	Limit int
}

// NewMockWorkItemStore creates a new mock store reporting TierAtomic.
func NewMockWorkItemStore() *MockWorkItemStore {
	return &MockWorkItemStore{TierValue: TierAtomic}
}

var _ WorkItemStore = (*MockWorkItemStore)(nil)

// Tier returns the configured tier.
func (m *MockWorkItemStore) Tier() Tier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TierValue
}

// GetItem calls GetItemFunc if set, otherwise returns workalloc.ErrNotFound.
func (m *MockWorkItemStore) GetItem(ctx context.Context, ref workalloc.ItemRef) (workalloc.WorkItem, error) {
	m.mu.Lock()
	m.GetItemCalls = append(m.GetItemCalls, GetItemCall{Ref: ref})
	fn := m.GetItemFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, ref)
	}
	return workalloc.WorkItem{}, workalloc.ErrNotFound
}

// InsertItem calls InsertItemFunc if set, otherwise echoes the item.
func (m *MockWorkItemStore) InsertItem(ctx context.Context, item workalloc.WorkItem) (workalloc.WorkItem, error) {
	m.mu.Lock()
	m.InsertItemCalls = append(m.InsertItemCalls, InsertItemCall{Item: item})
	fn := m.InsertItemFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, item)
	}
	return item, nil
}

// ReplaceItem calls ReplaceItemFunc if set, otherwise echoes the item.
func (m *MockWorkItemStore) ReplaceItem(ctx context.Context, item workalloc.WorkItem, expectedToken string) (workalloc.WorkItem, error) {
	m.mu.Lock()
	m.ReplaceItemCalls = append(m.ReplaceItemCalls, ReplaceItemCall{Item: item, ExpectedToken: expectedToken})
	fn := m.ReplaceItemFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, item, expectedToken)
	}
	return item, nil
}

// PatchItem calls PatchItemFunc if set, otherwise returns
// ErrPatchUnsupported when the mock reports TierDegraded and
// workalloc.ErrNotFound otherwise.
func (m *MockWorkItemStore) PatchItem(ctx context.Context, ref workalloc.ItemRef, ops []FieldOp, expectedToken string, pred Predicate) (workalloc.WorkItem, error) {
	m.mu.Lock()
	m.PatchItemCalls = append(m.PatchItemCalls, PatchItemCall{Ref: ref, Ops: ops, ExpectedToken: expectedToken, Pred: pred})
	fn := m.PatchItemFunc
	tier := m.TierValue
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, ref, ops, expectedToken, pred)
	}
	if tier == TierDegraded {
		return workalloc.WorkItem{}, ErrPatchUnsupported
	}
	return workalloc.WorkItem{}, workalloc.ErrNotFound
}

// QueryCandidates calls QueryCandidatesFunc if set, otherwise returns an
// empty slice.
func (m *MockWorkItemStore) QueryCandidates(ctx context.Context, q CandidateQuery) ([]workalloc.WorkItem, error) {
	m.mu.Lock()
	m.QueryCandidatesCalls = append(m.QueryCandidatesCalls, QueryCandidatesCall{Query: q})
	fn := m.QueryCandidatesFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, q)
	}
	return nil, nil
}

// UpsertAssignment calls UpsertAssignmentFunc if set, otherwise succeeds.
func (m *MockWorkItemStore) UpsertAssignment(ctx context.Context, entry workalloc.AssignmentIndexEntry) error {
	m.mu.Lock()
	m.UpsertAssignmentCalls = append(m.UpsertAssignmentCalls, AssignmentCall{Entry: entry})
	fn := m.UpsertAssignmentFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, entry)
	}
	return nil
}

// DeleteAssignment calls DeleteAssignmentFunc if set, otherwise succeeds.
func (m *MockWorkItemStore) DeleteAssignment(ctx context.Context, entry workalloc.AssignmentIndexEntry) error {
	m.mu.Lock()
	m.DeleteAssignmentCalls = append(m.DeleteAssignmentCalls, AssignmentCall{Entry: entry})
	fn := m.DeleteAssignmentFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, entry)
	}
	return nil
}

// ListAssignments calls ListAssignmentsFunc if set, otherwise returns an
// empty slice.
func (m *MockWorkItemStore) ListAssignments(ctx context.Context, ownerID string) ([]workalloc.AssignmentIndexEntry, error) {
	m.mu.Lock()
	m.ListAssignmentsCalls = append(m.ListAssignmentsCalls, ListAssignmentsCall{OwnerID: ownerID})
	fn := m.ListAssignmentsFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, ownerID)
	}
	return nil, nil
}

// QueryAssignments calls QueryAssignmentsFunc if set, otherwise returns an
// empty slice.
func (m *MockWorkItemStore) QueryAssignments(ctx context.Context, limit int) ([]workalloc.AssignmentIndexEntry, error) {
	m.mu.Lock()
	m.QueryAssignmentsCalls = append(m.QueryAssignmentsCalls, QueryAssignmentsCall{Limit: limit})
	fn := m.QueryAssignmentsFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, limit)
	}
	return nil, nil
}
