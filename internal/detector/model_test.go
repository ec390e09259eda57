package detector

import (
	"testing"

	"github.com/finelame/finelame/internal/fixedpoint"
)

func syntheticSamples() []Sample {
	samples := make([]Sample, 0, 40)
	for i := 0; i < 20; i++ {
		samples = append(samples, Sample{RID: uint64(i), Features: []float64{1, 2}})
	}
	for i := 20; i < 40; i++ {
		samples = append(samples, Sample{RID: uint64(i), Features: []float64{50, 60}})
	}
	return samples
}

func TestFit_ProducesModelWithMatchingClusterCount(t *testing.T) {
	mscale, _ := fixedpoint.NewScale(fixedpoint.Exponent, fixedpoint.DefaultMScale)
	sscale, _ := fixedpoint.NewScale(fixedpoint.Exponent, fixedpoint.DefaultSScale)

	model, cleaned, err := Fit(syntheticSamples(), 2, mscale, sscale)
	if err != nil {
		t.Fatal(err)
	}
	if len(cleaned) != 40 {
		t.Errorf("len(cleaned) = %d, want 40", len(cleaned))
	}
	if len(model.Centroids) != 2 {
		t.Fatalf("len(Centroids) = %d, want 2", len(model.Centroids))
	}
	if len(model.Thresholds) != 2 {
		t.Fatalf("len(Thresholds) = %d, want 2", len(model.Thresholds))
	}
	for _, th := range model.Thresholds {
		if th < 0 {
			t.Errorf("expected non-negative threshold, got %v", th)
		}
	}
}

func TestFit_EmptyAfterCleaningErrors(t *testing.T) {
	mscale, _ := fixedpoint.NewScale(fixedpoint.Exponent, fixedpoint.DefaultMScale)
	sscale, _ := fixedpoint.NewScale(fixedpoint.Exponent, fixedpoint.DefaultSScale)
	if _, _, err := Fit(nil, 2, mscale, sscale); err == nil {
		t.Fatal("expected error for empty training snapshot")
	}
}

func TestFit_KExceedsRowsErrors(t *testing.T) {
	mscale, _ := fixedpoint.NewScale(fixedpoint.Exponent, fixedpoint.DefaultMScale)
	sscale, _ := fixedpoint.NewScale(fixedpoint.Exponent, fixedpoint.DefaultSScale)
	samples := []Sample{{Features: []float64{1, 2}}}
	if _, _, err := Fit(samples, 5, mscale, sscale); err == nil {
		t.Fatal("expected error for k exceeding cleaned row count")
	}
}

func TestModel_CentroidL1Sum(t *testing.T) {
	m := &Model{Centroids: [][]float64{{1, 2, 3}}}
	if got := m.CentroidL1Sum(0); got != 6 {
		t.Errorf("CentroidL1Sum = %v, want 6", got)
	}
}
