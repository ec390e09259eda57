package detector

import "testing"

func TestClean_DropsTailOutlier(t *testing.T) {
	samples := make([]Sample, 0, 100)
	for i := 0; i < 99; i++ {
		samples = append(samples, Sample{RID: uint64(i), Features: []float64{10, 20}})
	}
	samples = append(samples, Sample{RID: 999, Features: []float64{100000, 20}})

	cleaned := Clean(samples)
	for _, s := range cleaned {
		if s.RID == 999 {
			t.Fatal("expected tail outlier to be dropped")
		}
	}
	if len(cleaned) != 99 {
		t.Errorf("len(cleaned) = %d, want 99", len(cleaned))
	}
}

func TestClean_Empty(t *testing.T) {
	if got := Clean(nil); len(got) != 0 {
		t.Errorf("Clean(nil) = %v, want empty", got)
	}
}
