package artifact

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/finelame/finelame/internal/detector"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %q: %v", path, err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // model_params mixes 1-field and 2-field rows
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read %q: %v", path, err)
	}
	return rows
}

func TestWriteTrainSet(t *testing.T) {
	w := Writer{OutDir: t.TempDir(), RunLabel: "run1"}
	samples := []detector.Sample{
		{RID: 1, OriginIP: 100, OriginTS: 10, CompletionTS: 20, Features: []float64{1, 2}},
		{RID: 2, OriginIP: 200, OriginTS: 11, CompletionTS: 21, Features: []float64{3, 4}},
	}
	if err := w.WriteTrainSet([]string{"cycles", "insns"}, samples); err != nil {
		t.Fatal(err)
	}
	rows := readCSV(t, filepath.Join(w.OutDir, "train_run1.csv"))
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3 (header + 2)", len(rows))
	}
	want := []string{"req_id", "origin_ip", "origin_ts", "completion_ts", "cycles", "insns"}
	for i, h := range want {
		if rows[0][i] != h {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], h)
		}
	}
	if rows[1][0] != "1" {
		t.Errorf("row1 req_id = %q, want 1", rows[1][0])
	}
}

func TestWriteScores(t *testing.T) {
	w := Writer{OutDir: t.TempDir(), RunLabel: "run1"}
	scores := []ScoredSample{
		{RID: 5, Score: 1.5, DetectionTS: 1, DetectionCPUTime: 2, LastTS: 3, IsOutlier: true, PerClusterScores: []float64{1.5, 9.2}},
	}
	if err := w.WriteScores(2, scores); err != nil {
		t.Fatal(err)
	}
	rows := readCSV(t, filepath.Join(w.OutDir, "scores_run1.csv"))
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	wantHeader := []string{"req_id", "score", "detection_ts", "detection_cputime", "last_ts", "is_outlier", "score_0", "score_1"}
	for i, h := range wantHeader {
		if rows[0][i] != h {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], h)
		}
	}
	if rows[1][5] != "1" {
		t.Errorf("is_outlier = %q, want 1", rows[1][5])
	}
}

func TestWriteScores_EmptyStillGetsKColumns(t *testing.T) {
	w := Writer{OutDir: t.TempDir(), RunLabel: "run1"}
	if err := w.WriteScores(3, nil); err != nil {
		t.Fatal(err)
	}
	rows := readCSV(t, filepath.Join(w.OutDir, "scores_run1.csv"))
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1 (header only)", len(rows))
	}
	wantHeader := []string{"req_id", "score", "detection_ts", "detection_cputime", "last_ts", "is_outlier", "score_0", "score_1", "score_2"}
	if len(rows[0]) != len(wantHeader) {
		t.Fatalf("header has %d columns, want %d: %v", len(rows[0]), len(wantHeader), rows[0])
	}
	for i, h := range wantHeader {
		if rows[0][i] != h {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], h)
		}
	}
}

func TestWriteNormalization(t *testing.T) {
	w := Writer{OutDir: t.TempDir(), RunLabel: "run2"}
	if err := w.WriteNormalization([]string{"cycles"}, []uint64{1024}, []uint64{64}); err != nil {
		t.Fatal(err)
	}
	rows := readCSV(t, filepath.Join(w.OutDir, "normalization_run2.csv"))
	if rows[1][0] != "cycles" || rows[1][1] != "1024" || rows[1][2] != "64" {
		t.Errorf("unexpected row: %v", rows[1])
	}
}

func TestWriteClusters(t *testing.T) {
	w := Writer{OutDir: t.TempDir(), RunLabel: "run3"}
	if err := w.WriteClusters([]int64{-5, 10}, []uint64{100, 200}); err != nil {
		t.Fatal(err)
	}
	rows := readCSV(t, filepath.Join(w.OutDir, "clusters_run3.csv"))
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[1][0] != "-5" || rows[1][1] != "100" {
		t.Errorf("unexpected row: %v", rows[1])
	}
}

func TestWriteModelParams(t *testing.T) {
	w := Writer{OutDir: t.TempDir(), RunLabel: "run4"}
	if err := w.WriteModelParams([]uint64{1, 2, 3, 4}, []uint64{50, 60}); err != nil {
		t.Fatal(err)
	}
	rows := readCSV(t, filepath.Join(w.OutDir, "model_params_run4.csv"))
	if len(rows) != 6 {
		t.Fatalf("got %d rows, want 6", len(rows))
	}
	if rows[4][0] != "[k0]" || rows[4][1] != "50" {
		t.Errorf("unexpected threshold row: %v", rows[4])
	}
}

func TestCopyConfig(t *testing.T) {
	w := Writer{OutDir: t.TempDir(), RunLabel: "run5"}
	raw := []byte("rid_type: u32\n")
	if err := w.CopyConfig(raw); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(w.OutDir, "fl_cfg_run5.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(raw) {
		t.Errorf("CopyConfig content mismatch: got %q", got)
	}
}
