package detector

import (
	"sort"
)

// CleanPercentile is the tail cutoff spec §3 fixes for X_train.
const CleanPercentile = 99.99

// Clean drops every row that exceeds the CleanPercentile for any feature
// column, computed independently per column against the full input set.
// A single pass over all columns (rather than iteratively re-computing
// percentiles as rows are dropped) keeps the cutoff reproducible regardless
// of feature order. The percentile interpolates linearly between the two
// nearest order statistics of the sorted column.
func Clean(samples []Sample) []Sample {
	if len(samples) == 0 {
		return samples
	}
	f := len(samples[0].Features)
	cutoffs := make([]float64, f)
	for c := 0; c < f; c++ {
		col := make([]float64, len(samples))
		for i, s := range samples {
			col[i] = s.Features[c]
		}
		sort.Float64s(col)
		pos := CleanPercentile / 100 * float64(len(col)-1)
		lo := int(pos)
		hi := lo
		if lo+1 < len(col) {
			hi = lo + 1
		}
		cutoffs[c] = col[lo] + (pos-float64(lo))*(col[hi]-col[lo])
	}

	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		keep := true
		for c, v := range s.Features {
			if v > cutoffs[c] {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, s)
		}
	}
	return out
}
