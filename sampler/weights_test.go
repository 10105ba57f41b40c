package sampler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curately/workalloc"
)

func TestNormalizeWeights_ScalesToOne(t *testing.T) {
	weights := NormalizeWeights([]workalloc.AllocationWeight{
		{DatasetName: "b", Weight: 3},
		{DatasetName: "a", Weight: 1},
	})

	require.Len(t, weights, 2)
	assert.Equal(t, "a", weights[0].DatasetName)
	assert.InDelta(t, 0.25, weights[0].Weight, 1e-9)
	assert.Equal(t, "b", weights[1].DatasetName)
	assert.InDelta(t, 0.75, weights[1].Weight, 1e-9)
}

func TestNormalizeWeights_DropsNonPositiveEntries(t *testing.T) {
	weights := NormalizeWeights([]workalloc.AllocationWeight{
		{DatasetName: "a", Weight: 2},
		{DatasetName: "b", Weight: 0},
		{DatasetName: "c", Weight: -1},
	})

	require.Len(t, weights, 1)
	assert.Equal(t, "a", weights[0].DatasetName)
	assert.InDelta(t, 1.0, weights[0].Weight, 1e-9)
}

func TestNormalizeWeights_AllZeroReturnsNil(t *testing.T) {
	assert.Nil(t, NormalizeWeights([]workalloc.AllocationWeight{
		{DatasetName: "a", Weight: 0},
		{DatasetName: "b", Weight: 0},
	}))
	assert.Nil(t, NormalizeWeights(nil))
}

func TestComputeQuotas_ExactSplit(t *testing.T) {
	weights := NormalizeWeights([]workalloc.AllocationWeight{
		{DatasetName: "a", Weight: 3},
		{DatasetName: "b", Weight: 1},
	})

	quotas := ComputeQuotas(weights, 4)

	assert.Equal(t, 3, quotas["a"])
	assert.Equal(t, 1, quotas["b"])
}

func TestComputeQuotas_LargestRemainderGetsLeftoverSlot(t *testing.T) {
	// With k=4 the exact shares are 2.4 and 1.6; the leftover slot goes to
	// the larger fractional remainder.
	weights := NormalizeWeights([]workalloc.AllocationWeight{
		{DatasetName: "a", Weight: 6},
		{DatasetName: "b", Weight: 4},
	})

	quotas := ComputeQuotas(weights, 4)

	assert.Equal(t, 2, quotas["a"])
	assert.Equal(t, 2, quotas["b"])
}

func TestComputeQuotas_RemainderTiesBreakByDatasetName(t *testing.T) {
	// Equal weights, k=3: exact shares 1.5 each, one leftover slot. The tie
	// breaks toward the lexicographically smaller dataset name.
	weights := NormalizeWeights([]workalloc.AllocationWeight{
		{DatasetName: "zebra", Weight: 1},
		{DatasetName: "apple", Weight: 1},
	})

	quotas := ComputeQuotas(weights, 3)

	assert.Equal(t, 2, quotas["apple"])
	assert.Equal(t, 1, quotas["zebra"])
}

func TestComputeQuotas_ZeroAndNegativeK(t *testing.T) {
	weights := NormalizeWeights([]workalloc.AllocationWeight{{DatasetName: "a", Weight: 1}})

	assert.Empty(t, ComputeQuotas(weights, 0))
	assert.Empty(t, ComputeQuotas(weights, -1))
	assert.Empty(t, ComputeQuotas(nil, 5))
}

func TestComputeQuotas_AcceptsRawWeights(t *testing.T) {
	// Unnormalized input splits the same way as its normalized form.
	quotas := ComputeQuotas([]workalloc.AllocationWeight{
		{DatasetName: "a", Weight: 50},
		{DatasetName: "b", Weight: 50},
	}, 10)

	assert.Equal(t, 5, quotas["a"])
	assert.Equal(t, 5, quotas["b"])
}

func TestComputeQuotas_AlwaysSumToK(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(8)
		raw := make([]workalloc.AllocationWeight, n)
		for i := range raw {
			raw[i] = workalloc.AllocationWeight{
				DatasetName: string(rune('a' + i)),
				Weight:      rng.Float64() * 100,
			}
		}

		k := 1 + rng.Intn(50)
		quotas := ComputeQuotas(raw, k)

		total := 0
		for _, q := range quotas {
			total += q
			assert.GreaterOrEqual(t, q, 0)
		}
		require.Equal(t, k, total, "quotas must sum to k (trial %d, k=%d)", trial, k)
	}
}
