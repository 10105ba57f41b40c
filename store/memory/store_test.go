package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curately/workalloc"
	"github.com/curately/workalloc/store"
)

func insertDraft(t *testing.T, s *Store, dataset, id string) workalloc.WorkItem {
	t.Helper()
	item, err := s.InsertItem(context.Background(), workalloc.WorkItem{
		ID:           id,
		DatasetName:  dataset,
		PartitionKey: "p0",
		Status:       workalloc.StatusDraft,
	})
	require.NoError(t, err)
	return item
}

func TestInsertItem_MintsVersionToken(t *testing.T) {
	s := New()

	item := insertDraft(t, s, "reviews", "item-1")

	assert.NotEmpty(t, item.VersionToken)

	got, err := s.GetItem(context.Background(), item.Ref())
	require.NoError(t, err)
	assert.Equal(t, item.VersionToken, got.VersionToken)
}

func TestInsertItem_DuplicateRefFails(t *testing.T) {
	s := New()
	insertDraft(t, s, "reviews", "item-1")

	_, err := s.InsertItem(context.Background(), workalloc.WorkItem{
		ID:           "item-1",
		DatasetName:  "reviews",
		PartitionKey: "p0",
	})

	assert.ErrorIs(t, err, workalloc.ErrAlreadyExists)
}

func TestGetItem_MissingItemReturnsNotFound(t *testing.T) {
	s := New()

	_, err := s.GetItem(context.Background(), workalloc.ItemRef{
		DatasetName: "reviews", PartitionKey: "p0", ID: "nope",
	})

	assert.ErrorIs(t, err, workalloc.ErrNotFound)
}

func TestReplaceItem_TokenGuard(t *testing.T) {
	s := New()
	item := insertDraft(t, s, "reviews", "item-1")

	t.Run("matching token succeeds and rotates the token", func(t *testing.T) {
		item.AssignedTo = "owner-1"
		updated, err := s.ReplaceItem(context.Background(), item, item.VersionToken)

		require.NoError(t, err)
		assert.Equal(t, "owner-1", updated.AssignedTo)
		assert.NotEqual(t, item.VersionToken, updated.VersionToken)
	})

	t.Run("stale token fails without side effects", func(t *testing.T) {
		before, err := s.GetItem(context.Background(), item.Ref())
		require.NoError(t, err)

		stale := before
		stale.AssignedTo = "owner-2"
		_, err = s.ReplaceItem(context.Background(), stale, "stale-token")
		assert.ErrorIs(t, err, workalloc.ErrVersionConflict)

		after, err := s.GetItem(context.Background(), item.Ref())
		require.NoError(t, err)
		assert.Equal(t, before.AssignedTo, after.AssignedTo)
		assert.Equal(t, before.VersionToken, after.VersionToken)
	})
}

func TestPatchItem_AppliesOpsUnderTokenAndPredicate(t *testing.T) {
	s := New()
	item := insertDraft(t, s, "reviews", "item-1")

	updated, err := s.PatchItem(context.Background(), item.Ref(), []store.FieldOp{
		{Field: store.FieldAssignedTo, Value: "owner-1"},
		{Field: "note", Value: "checked"},
	}, item.VersionToken, store.Predicate{AnyOf: []store.Cond{
		{Field: store.FieldAssignedTo, Op: store.CondEmpty},
	}})

	require.NoError(t, err)
	assert.Equal(t, "owner-1", updated.AssignedTo)
	assert.Equal(t, "checked", updated.Fields["note"])
	assert.NotEqual(t, item.VersionToken, updated.VersionToken)
}

func TestPatchItem_PredicateFailureLeavesItemUntouched(t *testing.T) {
	s := New()
	item := insertDraft(t, s, "reviews", "item-1")

	_, err := s.PatchItem(context.Background(), item.Ref(), []store.FieldOp{
		{Field: store.FieldAssignedTo, Value: "owner-1"},
	}, item.VersionToken, store.Predicate{AnyOf: []store.Cond{
		{Field: store.FieldStatus, Op: store.CondEq, Value: "approved"},
	}})

	assert.ErrorIs(t, err, store.ErrPredicateNotSatisfied)

	got, err := s.GetItem(context.Background(), item.Ref())
	require.NoError(t, err)
	assert.Empty(t, got.AssignedTo)
	assert.Equal(t, item.VersionToken, got.VersionToken)
}

func TestPatchItem_StaleTokenFails(t *testing.T) {
	s := New()
	item := insertDraft(t, s, "reviews", "item-1")

	_, err := s.PatchItem(context.Background(), item.Ref(), nil, "stale-token", store.Predicate{})

	assert.ErrorIs(t, err, workalloc.ErrVersionConflict)
}

func TestPatchItem_DegradedStoreRefuses(t *testing.T) {
	s := NewDegraded()
	item := insertDraft(t, s, "reviews", "item-1")

	_, err := s.PatchItem(context.Background(), item.Ref(), nil, item.VersionToken, store.Predicate{})

	assert.ErrorIs(t, err, store.ErrPatchUnsupported)
	assert.Equal(t, store.TierDegraded, s.Tier())
}

func TestQueryCandidates_FiltersAndOrders(t *testing.T) {
	s := New()
	ctx := context.Background()

	insertDraft(t, s, "reviews", "b")
	insertDraft(t, s, "reviews", "a")
	insertDraft(t, s, "tickets", "c")

	// Claimed items are not candidates.
	claimed := insertDraft(t, s, "reviews", "claimed")
	claimed.AssignedTo = "owner-2"
	_, err := s.ReplaceItem(ctx, claimed, claimed.VersionToken)
	require.NoError(t, err)

	items, err := s.QueryCandidates(ctx, store.CandidateQuery{
		DatasetName: "reviews",
		OwnerID:     "owner-1",
		Limit:       10,
	})

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
}

func TestQueryCandidates_ExclusionsAndLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	insertDraft(t, s, "reviews", "a")
	insertDraft(t, s, "reviews", "b")
	insertDraft(t, s, "reviews", "c")

	items, err := s.QueryCandidates(ctx, store.CandidateQuery{
		DatasetName: "reviews",
		OwnerID:     "owner-1",
		ExcludeRefs: []workalloc.ItemRef{{DatasetName: "reviews", PartitionKey: "p0", ID: "a"}},
		Limit:       1,
	})

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].ID)
}

func TestQueryCandidates_ExclusionScopedToDataset(t *testing.T) {
	s := New()
	ctx := context.Background()

	// The same ID exists in two datasets; excluding one ref must not
	// suppress the other item.
	insertDraft(t, s, "reviews", "dup")
	insertDraft(t, s, "tickets", "dup")

	items, err := s.QueryCandidates(ctx, store.CandidateQuery{
		CrossDataset: true,
		OwnerID:      "owner-1",
		ExcludeRefs:  []workalloc.ItemRef{{DatasetName: "reviews", PartitionKey: "p0", ID: "dup"}},
		Limit:        10,
	})

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "tickets", items[0].DatasetName)
	assert.Equal(t, "dup", items[0].ID)
}

func TestQueryCandidates_CrossDatasetScan(t *testing.T) {
	s := New()
	ctx := context.Background()

	insertDraft(t, s, "reviews", "a")
	insertDraft(t, s, "tickets", "b")

	items, err := s.QueryCandidates(ctx, store.CandidateQuery{
		CrossDataset: true,
		OwnerID:      "owner-1",
		Limit:        10,
	})

	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestQueryCandidates_RequiresScope(t *testing.T) {
	s := New()

	_, err := s.QueryCandidates(context.Background(), store.CandidateQuery{Limit: 10})

	assert.ErrorIs(t, err, store.ErrCrossDatasetRequired)
}

func TestAssignmentEntries_CRUD(t *testing.T) {
	s := New()
	ctx := context.Background()

	entry := workalloc.AssignmentIndexEntry{
		OwnerID: "owner-1", DatasetName: "reviews", PartitionKey: "p0", WorkItemID: "item-1",
	}
	other := workalloc.AssignmentIndexEntry{
		OwnerID: "owner-2", DatasetName: "reviews", PartitionKey: "p0", WorkItemID: "item-2",
	}

	require.NoError(t, s.UpsertAssignment(ctx, entry))
	require.NoError(t, s.UpsertAssignment(ctx, entry)) // idempotent
	require.NoError(t, s.UpsertAssignment(ctx, other))

	mine, err := s.ListAssignments(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "item-1", mine[0].WorkItemID)

	all, err := s.QueryAssignments(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteAssignment(ctx, entry))
	require.NoError(t, s.DeleteAssignment(ctx, entry)) // deleting a missing entry is fine

	mine, err = s.ListAssignments(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestGetItem_ReturnsDeepCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	item, err := s.InsertItem(ctx, workalloc.WorkItem{
		ID: "item-1", DatasetName: "reviews", PartitionKey: "p0",
		Status: workalloc.StatusDraft,
		Fields: map[string]any{"note": "original"},
	})
	require.NoError(t, err)

	got, err := s.GetItem(ctx, item.Ref())
	require.NoError(t, err)
	got.Fields["note"] = "mutated"

	again, err := s.GetItem(ctx, item.Ref())
	require.NoError(t, err)
	assert.Equal(t, "original", again.Fields["note"])
}
