package sampler

import (
	"sort"

	"github.com/curately/workalloc"
)

// NormalizeWeights drops entries with non-positive weight and scales the
// remainder so the weights sum to 1. Returns nil when no positive weight
// remains, which degrades sampling to an unweighted global pull. The input
// is not modified; the result is sorted by dataset name.
func NormalizeWeights(weights []workalloc.AllocationWeight) []workalloc.AllocationWeight {
	var total float64
	for _, w := range weights {
		if w.Weight > 0 {
			total += w.Weight
		}
	}
	if total == 0 {
		return nil
	}

	normalized := make([]workalloc.AllocationWeight, 0, len(weights))
	for _, w := range weights {
		if w.Weight > 0 {
			normalized = append(normalized, workalloc.AllocationWeight{
				DatasetName: w.DatasetName,
				Weight:      w.Weight / total,
			})
		}
	}

	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i].DatasetName < normalized[j].DatasetName
	})
	return normalized
}

// ComputeQuotas splits k candidate slots across datasets proportionally to
// their weights using the largest-remainder method: each dataset gets the
// floor of its exact share, and the leftover slots go one by one to the
// datasets with the largest fractional remainder, ties broken by dataset
// name ascending. The weights need not be normalized; non-positive entries
// are dropped. The returned quotas sum to exactly k whenever any positive
// weight remains.
func ComputeQuotas(weights []workalloc.AllocationWeight, k int) map[string]int {
	weights = NormalizeWeights(weights)
	quotas := make(map[string]int, len(weights))
	if k <= 0 || len(weights) == 0 {
		return quotas
	}

	type remainder struct {
		dataset  string
		fraction float64
	}

	assigned := 0
	remainders := make([]remainder, 0, len(weights))
	for _, w := range weights {
		exact := w.Weight * float64(k)
		floor := int(exact)
		quotas[w.DatasetName] = floor
		assigned += floor
		remainders = append(remainders, remainder{dataset: w.DatasetName, fraction: exact - float64(floor)})
	}

	sort.Slice(remainders, func(i, j int) bool {
		if remainders[i].fraction != remainders[j].fraction {
			return remainders[i].fraction > remainders[j].fraction
		}
		return remainders[i].dataset < remainders[j].dataset
	})

	for leftover := k - assigned; leftover > 0; leftover-- {
		quotas[remainders[0].dataset]++
		remainders = remainders[1:]
		// More leftover slots than datasets cannot happen with normalized
		// weights, but guard against an exhausted remainder list anyway.
		if len(remainders) == 0 {
			break
		}
	}
	return quotas
}
