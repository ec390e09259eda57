package detector

import (
	"fmt"

	"github.com/finelame/finelame/internal/fixedpoint"
	"gonum.org/v1/gonum/stat"
)

// FiveSigma is the fixed design constant from spec §4.E's threshold
// derivation: T_k = |mean(L_k) + 5*stdev(L_k)| (five normalized standard
// deviations of the in-cluster L1 distribution).
const FiveSigma = 5

// Model is the fitted state handed to Publish: standardization parameters,
// cluster centroids in standardized space, and the per-cluster thresholds,
// all still as floats — the fixed-point conversion happens only at
// Publish, which is the one place values cross into the data plane.
type Model struct {
	Mean, Std  []float64
	Centroids  [][]float64 // k x f, standardized space
	Thresholds []float64   // T_k, one per cluster
	Assign     []int       // cluster index per cleaned training row

	CentroidOffset float64 // Σ_c μ_c/σ_c
	MScale         fixedpoint.Scale
	SScale         fixedpoint.Scale
}

// CScale is the composite centroid scaler (spec §4.A).
func (m *Model) CScale() float64 {
	return fixedpoint.CentroidScale(m.MScale, m.SScale)
}

// Fit performs the full offline fit described in spec §4.E: clean the
// training snapshot, standardize it, run K-means, and derive per-cluster
// L1 thresholds. cleaned is also returned so the caller can write
// train_*.csv with the exact rows the model was fit on.
func Fit(samples []Sample, k int, mscale, sscale fixedpoint.Scale) (model *Model, cleaned []Sample, err error) {
	cleaned = Clean(samples)
	if len(cleaned) == 0 {
		return nil, nil, fmt.Errorf("detector: fit: training snapshot is empty after cleaning")
	}
	if k <= 0 {
		return nil, nil, fmt.Errorf("detector: fit: k must be positive, got %d", k)
	}
	if len(cleaned) < k {
		return nil, nil, fmt.Errorf("detector: fit: k=%d exceeds cleaned row count %d", k, len(cleaned))
	}

	mean, std, z, err := Standardize(cleaned)
	if err != nil {
		return nil, nil, err
	}

	assign, centroids, err := KMeans(z, k)
	if err != nil {
		return nil, nil, err
	}

	lSums := make([][]float64, k)
	for i, row := range z {
		var l float64
		for _, v := range row {
			l += v
		}
		c := assign[i]
		lSums[c] = append(lSums[c], l)
	}

	thresholds := make([]float64, k)
	for c := 0; c < k; c++ {
		if len(lSums[c]) == 0 {
			thresholds[c] = 0
			continue
		}
		mu, sigma := stat.MeanStdDev(lSums[c], nil)
		t := mu + FiveSigma*sigma
		if t < 0 {
			t = -t
		}
		thresholds[c] = t
	}

	var offset float64
	for c := range mean {
		offset += mean[c] / std[c]
	}

	return &Model{
		Mean:           mean,
		Std:            std,
		Centroids:      centroids,
		Thresholds:     thresholds,
		Assign:         assign,
		CentroidOffset: offset,
		MScale:         mscale,
		SScale:         sscale,
	}, cleaned, nil
}

// CentroidL1Sum returns Σ_c C_k[c] for cluster k, the raw (pre-scale) value
// published into centroid_l1s[k].
func (m *Model) CentroidL1Sum(k int) float64 {
	var sum float64
	for _, v := range m.Centroids[k] {
		sum += v
	}
	return sum
}
