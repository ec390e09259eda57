package contrib

import "testing"

func baseline() *BaselineSnapshot {
	return &BaselineSnapshot{
		Mean:           []float64{10, 10},
		Std:            []float64{2, 2},
		CentroidL1Sums: []float64{0, 20},
		Thresholds:     []float64{1, 1},
	}
}

func TestL1ThresholdScorer_NotOutlier(t *testing.T) {
	s := L1ThresholdScorer{}
	res, err := s.Score(ScoreRequest{Features: []float64{10, 10}, Baseline: baseline()})
	if err != nil {
		t.Fatal(err)
	}
	if res.ArgMin != 0 {
		t.Errorf("ArgMin = %d, want 0", res.ArgMin)
	}
	if res.IsOutlier {
		t.Error("expected not an outlier")
	}
}

func TestL1ThresholdScorer_Outlier(t *testing.T) {
	s := L1ThresholdScorer{}
	res, err := s.Score(ScoreRequest{Features: []float64{1000, 1000}, Baseline: baseline()})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsOutlier {
		t.Error("expected an outlier for far-out-of-distribution features")
	}
}

func TestL1ThresholdScorer_DimensionMismatch(t *testing.T) {
	s := L1ThresholdScorer{}
	if _, err := s.Score(ScoreRequest{Features: []float64{1}, Baseline: baseline()}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestGetScorer_BuiltIn(t *testing.T) {
	s, err := GetScorer("l1-threshold")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != "l1-threshold" {
		t.Errorf("Name() = %q, want l1-threshold", s.Name())
	}
}

func TestGetScorer_Unknown(t *testing.T) {
	if _, err := GetScorer("nonexistent"); err == nil {
		t.Fatal("expected error for unknown scorer")
	}
}
