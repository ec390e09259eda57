package detector

import "testing"

func TestStandardize_ZeroMeanUnitScaleShape(t *testing.T) {
	samples := []Sample{
		{Features: []float64{1, 10}},
		{Features: []float64{2, 20}},
		{Features: []float64{3, 30}},
	}
	mean, std, z, err := Standardize(samples)
	if err != nil {
		t.Fatal(err)
	}
	if len(mean) != 2 || len(std) != 2 || len(z) != 3 {
		t.Fatalf("unexpected shapes: mean=%v std=%v z=%v", mean, std, z)
	}
	if mean[0] != 2 || mean[1] != 20 {
		t.Errorf("mean = %v, want [2 20]", mean)
	}
}

func TestStandardize_ConstantColumn(t *testing.T) {
	samples := []Sample{
		{Features: []float64{5, 1}},
		{Features: []float64{5, 2}},
		{Features: []float64{5, 3}},
	}
	_, std, z, err := Standardize(samples)
	if err != nil {
		t.Fatal(err)
	}
	if std[0] != 1 {
		t.Errorf("expected constant-column std to fall back to 1, got %v", std[0])
	}
	for _, row := range z {
		if row[0] != 0 {
			t.Errorf("expected constant column to standardize to 0, got %v", row[0])
		}
	}
}

func TestKMeans_SeparatesObviousClusters(t *testing.T) {
	z := [][]float64{
		{-1, -1}, {-1.1, -0.9}, {-0.9, -1.1},
		{10, 10}, {10.1, 9.9}, {9.9, 10.1},
	}
	assign, centroids, err := KMeans(z, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(centroids) != 2 {
		t.Fatalf("expected 2 centroids, got %d", len(centroids))
	}
	low := assign[0]
	for _, i := range []int{1, 2} {
		if assign[i] != low {
			t.Errorf("expected rows 0-2 in the same cluster, got assign=%v", assign)
		}
	}
	high := assign[3]
	if high == low {
		t.Fatal("expected two distinct clusters")
	}
	for _, i := range []int{4, 5} {
		if assign[i] != high {
			t.Errorf("expected rows 3-5 in the same cluster, got assign=%v", assign)
		}
	}
}

func TestKMeans_InvalidK(t *testing.T) {
	z := [][]float64{{1, 2}}
	if _, _, err := KMeans(z, 0); err == nil {
		t.Fatal("expected error for k=0")
	}
	if _, _, err := KMeans(z, 5); err == nil {
		t.Fatal("expected error for k exceeding row count")
	}
}
