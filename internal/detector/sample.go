// Package detector implements the offline fit (training-window snapshot,
// cleaning, standardization, K-means, threshold derivation) that turns raw
// fingerprints into the parameters the data plane scores against (spec
// §4.E). It depends on gonum for the statistics primitives the teacher's
// anomaly package never needed (Mahalanobis distance was computed by hand
// there); K-means itself has no gonum counterpart and is hand-rolled on top
// of gonum/floats, the same layering other_examples/manifests/banshee's
// stack uses gonum for.
package detector

import (
	"sort"

	"github.com/finelame/finelame/internal/dataplane"
)

// Sample is one training or test row: a fingerprint plus its RID, in the
// shape spec §3's X_train table and the train_*.csv / test_*.csv artifacts
// both want.
type Sample struct {
	RID          uint64
	OriginIP     uint64
	OriginTS     uint64
	CompletionTS uint64
	Features     []float64
}

// FromSnapshot converts a dataplane fingerprint snapshot into Samples in a
// stable order, keeping only frozen (non-live) fingerprints and projecting
// each raw counter vector onto the configured feature order via datapoint
// indices (request_stats[feature].datapoint, resolved by the caller).
//
// Map iteration order is randomized per process, so RIDs are sorted before
// emission — KMeans picks its initial centroids by position in this slice
// (kmeans.go's "deterministic and order-stable" guarantee), which only holds
// if the same snapshot always yields the same Sample order.
func FromSnapshot(snap map[uint64]dataplane.RawFingerprint, datapointIndex []int) []Sample {
	rids := make([]uint64, 0, len(snap))
	for rid, fp := range snap {
		if fp.Live() {
			continue
		}
		rids = append(rids, rid)
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })

	out := make([]Sample, 0, len(rids))
	for _, rid := range rids {
		fp := snap[rid]
		features := make([]float64, len(datapointIndex))
		for i, idx := range datapointIndex {
			features[i] = float64(fp.Counters[idx])
		}
		out = append(out, Sample{
			RID:          rid,
			OriginIP:     fp.OriginIP,
			OriginTS:     fp.OriginTS,
			CompletionTS: fp.CompletionTS,
			Features:     features,
		})
	}
	return out
}
