package detector

import (
	"fmt"

	"github.com/finelame/finelame/internal/dataplane"
)

// Publish writes a fitted Model into the data plane's model-parameter maps,
// in the order spec §5 requires: train_set_params and centroid_offset
// before centroid_l1s and cluster_thresholds, since the kernel side treats
// cluster_thresholds[k] > 0 as its readiness signal.
func Publish(objs *dataplane.Objects, m *Model) error {
	cscale := m.CScale()

	trainParams := objs.TrainSetParamsArray()
	for c := range m.Mean {
		if err := trainParams.SetUnsigned(uint32(2*c), m.MScale.ToUnsigned(m.Mean[c])); err != nil {
			return fmt.Errorf("detector: publish train_set_params[%d]: %w", 2*c, err)
		}
		if err := trainParams.SetUnsigned(uint32(2*c+1), m.SScale.ToUnsigned(m.Std[c])); err != nil {
			return fmt.Errorf("detector: publish train_set_params[%d]: %w", 2*c+1, err)
		}
	}

	offset := objs.CentroidOffsetArray()
	if err := offset.SetUnsigned(0, RoundUnsigned(m.CentroidOffset*cscale)); err != nil {
		return fmt.Errorf("detector: publish centroid_offset: %w", err)
	}

	l1s := objs.CentroidL1sArray()
	thresholds := objs.ClusterThresholdsArray()
	for k := range m.Centroids {
		l1 := m.CentroidL1Sum(k) * cscale
		if err := l1s.SetSigned(uint32(k), RoundSigned(l1)); err != nil {
			return fmt.Errorf("detector: publish centroid_l1s[%d]: %w", k, err)
		}
		t := m.Thresholds[k] * cscale
		if err := thresholds.SetUnsigned(uint32(k), RoundUnsigned(t)); err != nil {
			return fmt.Errorf("detector: publish cluster_thresholds[%d]: %w", k, err)
		}
	}
	return nil
}

// RoundUnsigned rounds |x| half away from zero to uint64 (a negative input
// is replaced by its absolute value; values beyond the uint64 range are not
// clamped). It is the form thresholds and centroid_offset cross the
// user/kernel boundary in.
func RoundUnsigned(x float64) uint64 {
	if x < 0 {
		x = -x
	}
	return uint64(x + 0.5)
}

// RoundSigned rounds half away from zero to int64, the form centroid
// coordinates and centroid L1 sums cross the user/kernel boundary in.
func RoundSigned(x float64) int64 {
	if x >= 0 {
		return int64(x + 0.5)
	}
	return -int64(-x + 0.5)
}
