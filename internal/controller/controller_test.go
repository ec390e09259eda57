package controller

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/finelame/finelame/internal/config"
	"github.com/finelame/finelame/internal/detector"
	"github.com/finelame/finelame/internal/observability"
)

func TestMode_String(t *testing.T) {
	cases := map[Mode]string{
		ModeTraining:   "training",
		ModeMonitoring: "monitoring",
		ModeDetection:  "detection",
		ModeStopped:    "stopped",
	}
	for m, want := range cases {
		if got := m.String(); got != want {
			t.Errorf("Mode(%d).String() = %q, want %q", m, got, want)
		}
	}
}

func TestProject(t *testing.T) {
	samples := []detector.Sample{
		{RID: 1, Features: []float64{10, 20, 30}},
	}
	got := project(samples, []int{2, 0})
	if len(got) != 1 || got[0].Features[0] != 30 || got[0].Features[1] != 10 {
		t.Fatalf("unexpected projection: %+v", got)
	}
	if got[0].RID != 1 {
		t.Errorf("RID not preserved: %+v", got[0])
	}
}

func testConfig() *config.Config {
	return &config.Config{
		EBPFProg: "prog.bpf.c",
		RequestStats: []config.RequestStat{
			{Feature: "cputime", Datapoint: 0},
			{Feature: "allocs", Datapoint: 1},
		},
		ModelParams: config.ModelParamsConfig{
			K:           2,
			Features:    []string{"cputime", "allocs"},
			ScaleMethod: "exponent",
			MScale:      10,
			SScale:      6,
		},
	}
}

func TestNew_BuildsFeatureIndices(t *testing.T) {
	c, err := New(zap.NewNop(), testConfig(), []byte("cfg"), nil, nil, observability.NewMetrics(), "/tmp/out", "run1", time.Second, true)
	if err != nil {
		t.Fatal(err)
	}
	if c.mode != ModeTraining {
		t.Errorf("mode = %v, want training (ano-detect set)", c.mode)
	}
	if len(c.modelFeatureIdx) != 2 || c.modelFeatureIdx[0] != 0 || c.modelFeatureIdx[1] != 1 {
		t.Errorf("modelFeatureIdx = %v, want [0 1]", c.modelFeatureIdx)
	}
}

func TestNew_StartsMonitoringWithoutAnoDetect(t *testing.T) {
	c, err := New(zap.NewNop(), testConfig(), []byte("cfg"), nil, nil, observability.NewMetrics(), "/tmp/out", "run1", time.Second, false)
	if err != nil {
		t.Fatal(err)
	}
	if c.mode != ModeMonitoring {
		t.Errorf("mode = %v, want monitoring", c.mode)
	}
}

func TestNew_UnknownModelFeatureErrors(t *testing.T) {
	cfg := testConfig()
	cfg.ModelParams.Features = []string{"bogus"}
	if _, err := New(zap.NewNop(), cfg, nil, nil, nil, observability.NewMetrics(), "/tmp/out", "run1", time.Second, true); err == nil {
		t.Fatal("expected error for unknown model feature")
	}
}
