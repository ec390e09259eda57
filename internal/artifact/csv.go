// Package artifact writes the CSV (and verbatim YAML) files finelame dumps
// into --out on shutdown (spec §6 "Output artifacts"). Grounded on
// cmd/octoreflex-sim/main.go's style: a bare csv.NewWriter, explicit
// per-row Write calls, Flush at the end. Every writer here is best-effort
// at the call site (spec §7: "a missing source map yields an omitted
// artifact, not a crash") — the caller decides whether to log and
// continue or treat the error as fatal.
package artifact

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/finelame/finelame/internal/detector"
)

// Writer collects the directory and run label every artifact file shares.
type Writer struct {
	OutDir   string
	RunLabel string
}

func (w Writer) path(prefix string) string {
	return filepath.Join(w.OutDir, fmt.Sprintf("%s_%s.csv", prefix, w.RunLabel))
}

func create(path string) (*os.File, *csv.Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("artifact: create %q: %w", path, err)
	}
	return f, csv.NewWriter(f), nil
}

func finish(f *os.File, w *csv.Writer) error {
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("artifact: flush: %w", err)
	}
	return f.Close()
}

func sampleRow(s detector.Sample) []string {
	row := make([]string, 0, 4+len(s.Features))
	row = append(row,
		strconv.FormatUint(s.RID, 10),
		strconv.FormatUint(s.OriginIP, 10),
		strconv.FormatUint(s.OriginTS, 10),
		strconv.FormatUint(s.CompletionTS, 10),
	)
	for _, v := range s.Features {
		row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
	}
	return row
}

func sampleHeader(features []string) []string {
	header := []string{"req_id", "origin_ip", "origin_ts", "completion_ts"}
	return append(header, features...)
}

// WriteTrainSet writes train_<run_label>.csv: the cleaned training rows.
func (w Writer) WriteTrainSet(features []string, samples []detector.Sample) error {
	return w.writeSamples("train", features, samples)
}

// WriteTestSet writes test_<run_label>.csv: fingerprints observed during
// detection mode.
func (w Writer) WriteTestSet(features []string, samples []detector.Sample) error {
	return w.writeSamples("test", features, samples)
}

func (w Writer) writeSamples(prefix string, features []string, samples []detector.Sample) error {
	f, wr, err := create(w.path(prefix))
	if err != nil {
		return err
	}
	if err := wr.Write(sampleHeader(features)); err != nil {
		_ = f.Close()
		return fmt.Errorf("artifact: %s header: %w", prefix, err)
	}
	for _, s := range samples {
		if err := wr.Write(sampleRow(s)); err != nil {
			_ = f.Close()
			return fmt.Errorf("artifact: %s row: %w", prefix, err)
		}
	}
	return finish(f, wr)
}

// ScoredSample is one scored fingerprint, as written to scores_*.csv.
type ScoredSample struct {
	RID              uint64
	Score            float64
	DetectionTS      uint64
	DetectionCPUTime uint64
	LastTS           uint64
	IsOutlier        bool
	PerClusterScores []float64 // score_0 .. score_{K-1}
}

// WriteScores writes scores_<run_label>.csv. k is the fitted model's
// cluster count, giving the score_0..score_{K-1} header its width even when
// scores is empty.
func (w Writer) WriteScores(k int, scores []ScoredSample) error {
	f, wr, err := create(w.path("scores"))
	if err != nil {
		return err
	}

	header := []string{"req_id", "score", "detection_ts", "detection_cputime", "last_ts", "is_outlier"}
	for i := 0; i < k; i++ {
		header = append(header, fmt.Sprintf("score_%d", i))
	}
	if err := wr.Write(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("artifact: scores header: %w", err)
	}

	for _, s := range scores {
		outlier := "0"
		if s.IsOutlier {
			outlier = "1"
		}
		row := []string{
			strconv.FormatUint(s.RID, 10),
			strconv.FormatFloat(s.Score, 'f', 6, 64),
			strconv.FormatUint(s.DetectionTS, 10),
			strconv.FormatUint(s.DetectionCPUTime, 10),
			strconv.FormatUint(s.LastTS, 10),
			outlier,
		}
		for _, d := range s.PerClusterScores {
			row = append(row, strconv.FormatFloat(d, 'f', 6, 64))
		}
		if err := wr.Write(row); err != nil {
			_ = f.Close()
			return fmt.Errorf("artifact: scores row: %w", err)
		}
	}
	return finish(f, wr)
}

// WriteNormalization writes normalization_<run_label>.csv: the fixed-point
// (mean, std) pair published per feature, in the integer form written to
// train_set_params.
func (w Writer) WriteNormalization(features []string, meanFixed, stdFixed []uint64) error {
	f, wr, err := create(w.path("normalization"))
	if err != nil {
		return err
	}
	if err := wr.Write([]string{"feature", "mean", "std"}); err != nil {
		_ = f.Close()
		return fmt.Errorf("artifact: normalization header: %w", err)
	}
	for i, feat := range features {
		row := []string{feat, strconv.FormatUint(meanFixed[i], 10), strconv.FormatUint(stdFixed[i], 10)}
		if err := wr.Write(row); err != nil {
			_ = f.Close()
			return fmt.Errorf("artifact: normalization row: %w", err)
		}
	}
	return finish(f, wr)
}

// WriteClusters writes clusters_<run_label>.csv: the fixed-point (l1,
// threshold) pair published per cluster.
func (w Writer) WriteClusters(l1Fixed []int64, thresholdFixed []uint64) error {
	f, wr, err := create(w.path("clusters"))
	if err != nil {
		return err
	}
	if err := wr.Write([]string{"l1", "threshold"}); err != nil {
		_ = f.Close()
		return fmt.Errorf("artifact: clusters header: %w", err)
	}
	for i := range l1Fixed {
		row := []string{strconv.FormatInt(l1Fixed[i], 10), strconv.FormatUint(thresholdFixed[i], 10)}
		if err := wr.Write(row); err != nil {
			_ = f.Close()
			return fmt.Errorf("artifact: clusters row: %w", err)
		}
	}
	return finish(f, wr)
}

// WriteModelParams writes model_params_<run_label>.csv: a flat dump of
// train_set_params (interleaved mean/std per feature) followed by
// threshold lines labeled "[kN]".
func (w Writer) WriteModelParams(trainSetParams []uint64, thresholdFixed []uint64) error {
	f, wr, err := create(w.path("model_params"))
	if err != nil {
		return err
	}
	for _, v := range trainSetParams {
		if err := wr.Write([]string{strconv.FormatUint(v, 10)}); err != nil {
			_ = f.Close()
			return fmt.Errorf("artifact: model_params row: %w", err)
		}
	}
	for k, v := range thresholdFixed {
		row := []string{fmt.Sprintf("[k%d]", k), strconv.FormatUint(v, 10)}
		if err := wr.Write(row); err != nil {
			_ = f.Close()
			return fmt.Errorf("artifact: model_params threshold row: %w", err)
		}
	}
	return finish(f, wr)
}

// CopyConfig writes fl_cfg_<run_label>.yml: a verbatim copy of the config
// bytes finelame loaded.
func (w Writer) CopyConfig(raw []byte) error {
	path := filepath.Join(w.OutDir, fmt.Sprintf("fl_cfg_%s.yml", w.RunLabel))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("artifact: write %q: %w", path, err)
	}
	return nil
}
