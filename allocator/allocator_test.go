package allocator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curately/workalloc"
	"github.com/curately/workalloc/guard"
	"github.com/curately/workalloc/index"
	"github.com/curately/workalloc/sampler"
	"github.com/curately/workalloc/store"
	"github.com/curately/workalloc/store/memory"
)

func newTestAllocator(t *testing.T, s store.WorkItemStore, weights []workalloc.AllocationWeight) *Allocator {
	t.Helper()

	g, err := guard.New(guard.Config{Store: s})
	require.NoError(t, err)

	idx, err := index.New(index.Config{Store: s})
	require.NoError(t, err)

	smp, err := sampler.New(sampler.Config{Store: s, Index: idx, Weights: weights})
	require.NoError(t, err)

	a, err := New(Config{Store: s, Guard: g, Sampler: smp, Index: idx})
	require.NoError(t, err)
	return a
}

func seedDrafts(t *testing.T, s *memory.Store, dataset string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := s.InsertItem(context.Background(), workalloc.WorkItem{
			ID: id, DatasetName: dataset, PartitionKey: "p0",
			Status: workalloc.StatusDraft,
		})
		require.NoError(t, err)
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, workalloc.ErrStoreRequired)

	_, err = New(Config{Store: memory.New()})
	assert.ErrorIs(t, err, workalloc.ErrInvalidConfig)
}

func TestAllocateBatch_ClaimsAndIndexesItems(t *testing.T) {
	s := memory.New()
	seedDrafts(t, s, "reviews", "a", "b", "c", "d")

	a := newTestAllocator(t, s, nil)
	ctx := context.Background()

	items, err := a.AllocateBatch(ctx, "owner-1", 3)

	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, item := range items {
		assert.Equal(t, "owner-1", item.AssignedTo)
		assert.Equal(t, workalloc.StatusDraft, item.Status)
		assert.NotNil(t, item.AssignedAt)
	}

	entries, err := s.ListAssignments(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestAllocateBatch_ReRequestReturnsHeldItemsFirst(t *testing.T) {
	s := memory.New()
	seedDrafts(t, s, "reviews", "a", "b", "c", "d", "e")

	a := newTestAllocator(t, s, nil)
	ctx := context.Background()

	first, err := a.AllocateBatch(ctx, "owner-1", 3)
	require.NoError(t, err)
	require.Len(t, first, 3)

	second, err := a.AllocateBatch(ctx, "owner-1", 3)
	require.NoError(t, err)
	require.Len(t, second, 3)

	firstIDs := make(map[string]bool)
	for _, item := range first {
		firstIDs[item.ID] = true
	}
	for _, item := range second {
		assert.True(t, firstIDs[item.ID], "re-request must not claim new work while the batch is open")
	}
}

func TestAllocateBatch_DisjointBatchesForConcurrentOwners(t *testing.T) {
	s := memory.New()
	seedDrafts(t, s, "reviews", "a", "b", "c", "d", "e", "f")

	a := newTestAllocator(t, s, nil)
	ctx := context.Background()

	batch1, err := a.AllocateBatch(ctx, "owner-1", 3)
	require.NoError(t, err)
	batch2, err := a.AllocateBatch(ctx, "owner-2", 3)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, item := range append(batch1, batch2...) {
		assert.False(t, seen[item.ID], "item %s claimed twice", item.ID)
		seen[item.ID] = true
	}
	assert.Len(t, seen, 6)
}

func TestAllocateBatch_ShortBatchWhenSupplyRunsOut(t *testing.T) {
	s := memory.New()
	seedDrafts(t, s, "reviews", "a", "b")

	a := newTestAllocator(t, s, nil)

	items, err := a.AllocateBatch(context.Background(), "owner-1", 5)

	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestAllocateBatch_NonPositiveLimit(t *testing.T) {
	s := memory.New()
	seedDrafts(t, s, "reviews", "a")

	a := newTestAllocator(t, s, nil)

	items, err := a.AllocateBatch(context.Background(), "owner-1", 0)

	require.NoError(t, err)
	assert.Empty(t, items)
}

// raceStore delegates to a memory store but makes the first claim of one
// contested item lose: a rival grabs it and the patch reports a conflict.
func raceStore(t *testing.T, mem *memory.Store, contestedID string) *store.MockWorkItemStore {
	t.Helper()

	mock := store.NewMockWorkItemStore()
	mock.GetItemFunc = mem.GetItem
	mock.InsertItemFunc = mem.InsertItem
	mock.ReplaceItemFunc = mem.ReplaceItem
	mock.QueryCandidatesFunc = mem.QueryCandidates
	mock.UpsertAssignmentFunc = mem.UpsertAssignment
	mock.DeleteAssignmentFunc = mem.DeleteAssignment
	mock.ListAssignmentsFunc = mem.ListAssignments
	mock.QueryAssignmentsFunc = mem.QueryAssignments

	raced := false
	mock.PatchItemFunc = func(ctx context.Context, ref workalloc.ItemRef, ops []store.FieldOp, expectedToken string, pred store.Predicate) (workalloc.WorkItem, error) {
		if ref.ID == contestedID && !raced {
			raced = true
			current, err := mem.GetItem(ctx, ref)
			require.NoError(t, err)
			current.AssignedTo = "rival"
			_, err = mem.ReplaceItem(ctx, current, current.VersionToken)
			require.NoError(t, err)
			return workalloc.WorkItem{}, workalloc.ErrVersionConflict
		}
		return mem.PatchItem(ctx, ref, ops, expectedToken, pred)
	}
	return mock
}

func TestAllocateBatch_LostRaceSkipsToNextCandidate(t *testing.T) {
	mem := memory.New()
	seedDrafts(t, mem, "reviews", "a", "b-contested", "c", "d")

	a := newTestAllocator(t, raceStore(t, mem, "b-contested"), nil)

	items, err := a.AllocateBatch(context.Background(), "owner-1", 3)

	require.NoError(t, err)
	require.Len(t, items, 3, "a lost race must not shrink the batch while supply remains")
	for _, item := range items {
		assert.NotEqual(t, "b-contested", item.ID)
		assert.Equal(t, "owner-1", item.AssignedTo)
	}
}

func TestAllocateBatch_CompensationDisabled(t *testing.T) {
	mem := memory.New()
	seedDrafts(t, mem, "reviews", "a", "b-contested", "c")

	s := raceStore(t, mem, "b-contested")
	g, err := guard.New(guard.Config{Store: s})
	require.NoError(t, err)
	idx, err := index.New(index.Config{Store: s})
	require.NoError(t, err)
	smp, err := sampler.New(sampler.Config{Store: s, Index: idx})
	require.NoError(t, err)

	a, err := New(Config{Store: s, Guard: g, Sampler: smp, Index: idx, DisableCompensation: true})
	require.NoError(t, err)

	items, err := a.AllocateBatch(context.Background(), "owner-1", 3)

	require.NoError(t, err)
	assert.Len(t, items, 2, "without compensation the lost race leaves the batch short")
}

func TestAssign_ClaimsNamedItem(t *testing.T) {
	s := memory.New()
	seedDrafts(t, s, "reviews", "item-1")

	a := newTestAllocator(t, s, nil)
	ctx := context.Background()

	ref := workalloc.ItemRef{DatasetName: "reviews", PartitionKey: "p0", ID: "item-1"}
	item, err := a.Assign(ctx, "owner-1", ref)

	require.NoError(t, err)
	assert.Equal(t, "owner-1", item.AssignedTo)

	entries, err := s.ListAssignments(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAssign_IdempotentForCurrentHolder(t *testing.T) {
	s := memory.New()
	seedDrafts(t, s, "reviews", "item-1")

	a := newTestAllocator(t, s, nil)
	ctx := context.Background()

	ref := workalloc.ItemRef{DatasetName: "reviews", PartitionKey: "p0", ID: "item-1"}
	first, err := a.Assign(ctx, "owner-1", ref)
	require.NoError(t, err)

	second, err := a.Assign(ctx, "owner-1", ref)
	require.NoError(t, err)

	assert.Equal(t, first.VersionToken, second.VersionToken, "re-claiming held work must not rotate the token")
}

func TestAssign_HeldByOtherOwnerFails(t *testing.T) {
	s := memory.New()
	seedDrafts(t, s, "reviews", "item-1")

	a := newTestAllocator(t, s, nil)
	ctx := context.Background()

	ref := workalloc.ItemRef{DatasetName: "reviews", PartitionKey: "p0", ID: "item-1"}
	_, err := a.Assign(ctx, "owner-1", ref)
	require.NoError(t, err)

	_, err = a.Assign(ctx, "owner-2", ref)

	assert.ErrorIs(t, err, workalloc.ErrAlreadyAssigned)
}

func TestAssign_MissingItem(t *testing.T) {
	a := newTestAllocator(t, memory.New(), nil)

	_, err := a.Assign(context.Background(), "owner-1", workalloc.ItemRef{
		DatasetName: "reviews", PartitionKey: "p0", ID: "nope",
	})

	assert.ErrorIs(t, err, workalloc.ErrNotFound)
}

func TestAssign_ReclaimsSkippedItem(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	item, err := s.InsertItem(ctx, workalloc.WorkItem{
		ID: "item-1", DatasetName: "reviews", PartitionKey: "p0",
		Status: workalloc.StatusSkipped, AssignedTo: "owner-2",
	})
	require.NoError(t, err)

	a := newTestAllocator(t, s, nil)

	claimed, err := a.Assign(ctx, "owner-1", item.Ref())

	require.NoError(t, err)
	assert.Equal(t, "owner-1", claimed.AssignedTo)
	assert.Equal(t, workalloc.StatusDraft, claimed.Status, "reclaiming reopens the item")
}

func TestTakeover_StealsHeldItemAndInvalidatesIndex(t *testing.T) {
	s := memory.New()
	seedDrafts(t, s, "reviews", "item-1")

	a := newTestAllocator(t, s, nil)
	ctx := context.Background()

	ref := workalloc.ItemRef{DatasetName: "reviews", PartitionKey: "p0", ID: "item-1"}
	_, err := a.Assign(ctx, "owner-1", ref)
	require.NoError(t, err)

	taken, err := a.Takeover(ctx, "owner-2", ref)

	require.NoError(t, err)
	assert.Equal(t, "owner-2", taken.AssignedTo)

	previous, err := s.ListAssignments(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, previous, "previous owner's index entry must be invalidated")

	current, err := s.ListAssignments(ctx, "owner-2")
	require.NoError(t, err)
	assert.Len(t, current, 1)
}

func TestAllocateBatch_WeightedAllocation(t *testing.T) {
	s := memory.New()
	for i := 0; i < 10; i++ {
		seedDrafts(t, s, "photos", fmt.Sprintf("photo-%d", i))
		seedDrafts(t, s, "tickets", fmt.Sprintf("ticket-%d", i))
	}

	a := newTestAllocator(t, s, []workalloc.AllocationWeight{
		{DatasetName: "photos", Weight: 3},
		{DatasetName: "tickets", Weight: 1},
	})

	items, err := a.AllocateBatch(context.Background(), "owner-1", 4)

	require.NoError(t, err)
	require.Len(t, items, 4)

	counts := make(map[string]int)
	for _, item := range items {
		counts[item.DatasetName]++
	}
	assert.Equal(t, 3, counts["photos"])
	assert.Equal(t, 1, counts["tickets"])
}
