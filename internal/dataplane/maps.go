// maps.go presents the closed set of shared maps as structured containers,
// per spec Design Note "Interface abstraction over the data plane":
// datapoints and outlier_scores_m are iterable key-value views, the model
// parameter maps are indexable arrays. Nothing downstream touches an
// *ebpf.Map directly.

package dataplane

import (
	"fmt"

	"github.com/cilium/ebpf"
)

// RawFingerprint mirrors the data plane's struct finelame_fp. Widths match
// spec §3/§4.D: timestamps and counters are 64-bit unsigned, origin_ip is an
// opaque 64-bit program-counter value. Only Counters[:f] is meaningful; f is
// fixed for the run and carried alongside, not in this struct.
type RawFingerprint struct {
	OriginTS     uint64
	CompletionTS uint64
	OriginIP     uint64
	Counters     [MaxFeatures]uint64
}

// Live reports whether the fingerprint is still open (spec §3 invariant:
// completion_ts = 0 while the request is live).
func (f RawFingerprint) Live() bool {
	return f.CompletionTS == 0
}

// RawOutlierScore mirrors the data plane's struct finelame_outlier_score.
type RawOutlierScore struct {
	Distances        [MaxClusters]int64
	DetectionTS      uint64
	DetectionCPUTime uint64
	LastTS           uint64
	IsOutlier        uint32
}

// FingerprintView is an iterable key-value view over the datapoints map,
// keyed by RID. RIDs are carried as uint64 on the Go side regardless of the
// declared wire width (u32/u64/int); the data plane masks appropriately.
type FingerprintView struct{ m *ebpf.Map }

// Fingerprints returns a FingerprintView over o.Datapoints.
func (o *Objects) Fingerprints() FingerprintView { return FingerprintView{o.Datapoints} }

// Get looks up a single fingerprint by rid.
func (v FingerprintView) Get(rid uint64) (RawFingerprint, bool, error) {
	var fp RawFingerprint
	err := v.m.Lookup(&rid, &fp)
	if err != nil {
		if err == ebpf.ErrKeyNotExist {
			return RawFingerprint{}, false, nil
		}
		return RawFingerprint{}, false, fmt.Errorf("dataplane: lookup datapoints[%d]: %w", rid, err)
	}
	return fp, true, nil
}

// Delete removes the fingerprint for rid; a missing key is not an error.
// Nothing in finelame calls it: snapshots leave datapoints untouched.
func (v FingerprintView) Delete(rid uint64) error {
	err := v.m.Delete(&rid)
	if err != nil && err != ebpf.ErrKeyNotExist {
		return fmt.Errorf("dataplane: delete datapoints[%d]: %w", rid, err)
	}
	return nil
}

// Snapshot iterates the entire map and returns every entry as of the call.
// Used by the controller to build X_train and the detection-mode test set.
func (v FingerprintView) Snapshot() (map[uint64]RawFingerprint, error) {
	out := make(map[uint64]RawFingerprint)
	var (
		rid uint64
		fp  RawFingerprint
	)
	it := v.m.Iterate()
	for it.Next(&rid, &fp) {
		out[rid] = fp
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("dataplane: iterate datapoints: %w", err)
	}
	return out, nil
}

// OutlierScoreView is an iterable key-value view over outlier_scores_m.
type OutlierScoreView struct{ m *ebpf.Map }

// OutlierScoresView returns an OutlierScoreView over o.OutlierScores.
func (o *Objects) OutlierScoresView() OutlierScoreView { return OutlierScoreView{o.OutlierScores} }

// Get looks up a single outlier-score row by rid.
func (v OutlierScoreView) Get(rid uint64) (RawOutlierScore, bool, error) {
	var s RawOutlierScore
	err := v.m.Lookup(&rid, &s)
	if err != nil {
		if err == ebpf.ErrKeyNotExist {
			return RawOutlierScore{}, false, nil
		}
		return RawOutlierScore{}, false, fmt.Errorf("dataplane: lookup outlier_scores_m[%d]: %w", rid, err)
	}
	return s, true, nil
}

// Snapshot iterates every outlier-score row currently present.
func (v OutlierScoreView) Snapshot() (map[uint64]RawOutlierScore, error) {
	out := make(map[uint64]RawOutlierScore)
	var (
		rid uint64
		s   RawOutlierScore
	)
	it := v.m.Iterate()
	for it.Next(&rid, &s) {
		out[rid] = s
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("dataplane: iterate outlier_scores_m: %w", err)
	}
	return out, nil
}

// ParamArray is an indexable-by-small-integer view over one of the model
// parameter maps (train_set_params, centroid_offset, centroid_l1s,
// cluster_thresholds). Apart from FingerprintView.Delete, it is the only
// write surface user space has into the data plane, and it is written only
// at publication time (spec §3 "Ownership").
type ParamArray struct{ m *ebpf.Map }

func newParamArray(m *ebpf.Map) ParamArray { return ParamArray{m} }

// TrainSetParamsArray returns the packed (μ_c, σ_c) pair array, length 2f.
func (o *Objects) TrainSetParamsArray() ParamArray { return newParamArray(o.TrainSetParams) }

// CentroidOffsetArray returns the single-element centroid_offset array.
func (o *Objects) CentroidOffsetArray() ParamArray { return newParamArray(o.CentroidOffset) }

// CentroidL1sArray returns the length-K centroid_l1s array.
func (o *Objects) CentroidL1sArray() ParamArray { return newParamArray(o.CentroidL1s) }

// ClusterThresholdsArray returns the length-K cluster_thresholds array.
func (o *Objects) ClusterThresholdsArray() ParamArray { return newParamArray(o.ClusterThresholds) }

// SetUnsigned writes an unsigned 64-bit value at index i.
func (a ParamArray) SetUnsigned(i uint32, v uint64) error {
	if err := a.m.Put(i, v); err != nil {
		return fmt.Errorf("dataplane: set param[%d]=%d: %w", i, v, err)
	}
	return nil
}

// SetSigned writes a signed 64-bit value at index i (centroid coordinates
// and centroid L1 sums may be negative).
func (a ParamArray) SetSigned(i uint32, v int64) error {
	if err := a.m.Put(i, uint64(v)); err != nil {
		return fmt.Errorf("dataplane: set param[%d]=%d: %w", i, v, err)
	}
	return nil
}

// GetUnsigned reads back an unsigned value, used for the fixed-point
// round-trip property (spec §8) and for model_params_*.csv dumps.
func (a ParamArray) GetUnsigned(i uint32) (uint64, error) {
	var v uint64
	if err := a.m.Lookup(i, &v); err != nil {
		return 0, fmt.Errorf("dataplane: get param[%d]: %w", i, err)
	}
	return v, nil
}

// GetSigned reads back a signed value.
func (a ParamArray) GetSigned(i uint32) (int64, error) {
	var v uint64
	if err := a.m.Lookup(i, &v); err != nil {
		return 0, fmt.Errorf("dataplane: get param[%d]: %w", i, err)
	}
	return int64(v), nil
}
