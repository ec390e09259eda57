package detector

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// maxLloydIterations bounds Lloyd's algorithm; K-means on a few thousand
// rows with single-digit K converges in a handful of passes in practice, so
// this is a safety stop rather than an expected limit.
const maxLloydIterations = 100

// Standardize computes per-feature (mean, std) over samples and returns the
// standardized matrix Z = (X - mean) / std (spec §3 "Model").
func Standardize(samples []Sample) (mean, std []float64, z [][]float64, err error) {
	if len(samples) == 0 {
		return nil, nil, nil, fmt.Errorf("detector: standardize: no samples")
	}
	f := len(samples[0].Features)
	mean = make([]float64, f)
	std = make([]float64, f)

	for c := 0; c < f; c++ {
		col := make([]float64, len(samples))
		for i, s := range samples {
			col[i] = s.Features[c]
		}
		mean[c], std[c] = stat.MeanStdDev(col, nil)
		if std[c] == 0 {
			// A constant column would divide by zero; treat it as
			// contributing nothing to the standardized space rather than
			// producing NaN/Inf in every downstream row.
			std[c] = 1
		}
	}

	z = make([][]float64, len(samples))
	for i, s := range samples {
		row := make([]float64, f)
		copy(row, s.Features)
		floats.Sub(row, mean)
		floats.DivTo(row, row, std)
		z[i] = row
	}
	return mean, std, z, nil
}

// KMeans runs Lloyd's algorithm on z with exactly k clusters, returning the
// cluster assignment per row and the resulting centroids. Initialization
// picks k evenly-spaced rows from z as starting centroids — deterministic
// and order-stable, unlike a random restart, which matters for a training
// step that has to reproduce the same model across runs of the same data.
func KMeans(z [][]float64, k int) (assign []int, centroids [][]float64, err error) {
	n := len(z)
	if n == 0 {
		return nil, nil, fmt.Errorf("detector: kmeans: no rows")
	}
	if k <= 0 || k > n {
		return nil, nil, fmt.Errorf("detector: kmeans: k=%d invalid for %d rows", k, n)
	}
	f := len(z[0])

	centroids = make([][]float64, k)
	stride := n / k
	for i := 0; i < k; i++ {
		src := z[i*stride]
		c := make([]float64, f)
		copy(c, src)
		centroids[i] = c
	}

	assign = make([]int, n)
	for iter := 0; iter < maxLloydIterations; iter++ {
		changed := false
		for i, row := range z {
			best, bestDist := 0, sqDist(row, centroids[0])
			for k2 := 1; k2 < k; k2++ {
				d := sqDist(row, centroids[k2])
				if d < bestDist {
					best, bestDist = k2, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for k2 := range sums {
			sums[k2] = make([]float64, f)
		}
		for i, row := range z {
			k2 := assign[i]
			floats.Add(sums[k2], row)
			counts[k2]++
		}
		for k2 := range centroids {
			if counts[k2] == 0 {
				continue // keep the previous centroid for an emptied cluster
			}
			floats.Scale(1/float64(counts[k2]), sums[k2])
			centroids[k2] = sums[k2]
		}

		if !changed && iter > 0 {
			break
		}
	}
	return assign, centroids, nil
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
