package evaluation

import (
	"math"
	"sort"
)

// DCG calculates Discounted Cumulative Gain with exponential gain over the
// first k grades.
func DCG(grades []float64, k int) float64 {
	if k > len(grades) {
		k = len(grades)
	}
	var dcg float64
	for i := 0; i < k; i++ {
		dcg += (math.Pow(2, grades[i]) - 1) / math.Log2(float64(i+2))
	}
	return dcg
}

// NDCG calculates Normalized Discounted Cumulative Gain at K of a ranking
// against the ideal ordering of ideal. It returns 0 when the ideal DCG is 0.
func NDCG(grades, ideal []float64, k int) float64 {
	idcg := DCG(sortedDesc(ideal), k)
	if idcg == 0 {
		return 0
	}
	return DCG(grades, k) / idcg
}

func sortedDesc(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	return out
}
