// Package controller drives finelame's pipeline mode machine (spec §4.F),
// coordinating the fixed-point bridge, template rewriter, probe supervisor,
// data plane, and detector components into one 1-second control loop.
// Grounded on the teacher's internal/escalation state machine for the
// enum-plus-mutex shape, generalized from a five-state isolation ladder to
// finelame's four pipeline modes.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finelame/finelame/internal/artifact"
	"github.com/finelame/finelame/internal/config"
	"github.com/finelame/finelame/internal/dataplane"
	"github.com/finelame/finelame/internal/detector"
	"github.com/finelame/finelame/internal/fixedpoint"
	"github.com/finelame/finelame/internal/observability"
	"github.com/finelame/finelame/internal/operator"
	"github.com/finelame/finelame/internal/probe"
)

// pollInterval is the controller's single suspension point per iteration
// (spec §5 "Scheduling model").
const pollInterval = 1 * time.Second

// Controller drives training → detection → stopped (anomaly detection
// enabled) or monitoring → stopped (disabled).
type Controller struct {
	log      *zap.Logger
	cfg      *config.Config
	objs     *dataplane.Objects
	sup      *probe.Supervisor
	metrics  *observability.Metrics
	writer   artifact.Writer
	rawCfg   []byte
	runLabel string

	anomalyDetect bool
	trainTime     time.Duration

	mscale, sscale fixedpoint.Scale

	// features is the full declared feature order (spec §3 "Feature list
	// F"); featureIdx[i] is fp.Counters' index for features[i].
	features   []string
	featureIdx []int

	// modelFeatureIdx maps model_params.features onto positions within
	// features/featureIdx, since the fitted model may use a subset.
	modelFeatureIdx []int

	mu          sync.Mutex
	mode        Mode
	windowStart time.Time
	trainRows   []detector.Sample
	testRows    []detector.Sample
	model       *detector.Model
	outliers    int
}

// New constructs a Controller. cfg has already been validated; rawCfg is the
// exact bytes read from disk, kept for the verbatim fl_cfg_*.yml artifact.
func New(log *zap.Logger, cfg *config.Config, rawCfg []byte, objs *dataplane.Objects, sup *probe.Supervisor, metrics *observability.Metrics, outDir, runLabel string, trainTime time.Duration, anomalyDetect bool) (*Controller, error) {
	mscale, err := fixedpoint.NewScale(fixedpoint.Method(cfg.ModelParams.ScaleMethod), cfg.ModelParams.MScale)
	if err != nil {
		return nil, fmt.Errorf("controller: m_scale: %w", err)
	}
	sscale, err := fixedpoint.NewScale(fixedpoint.Method(cfg.ModelParams.ScaleMethod), cfg.ModelParams.SScale)
	if err != nil {
		return nil, fmt.Errorf("controller: s_scale: %w", err)
	}

	features := make([]string, len(cfg.RequestStats))
	featureIdx := make([]int, len(cfg.RequestStats))
	pos := make(map[string]int, len(cfg.RequestStats))
	for i, rs := range cfg.RequestStats {
		features[i] = rs.Feature
		featureIdx[i] = rs.Datapoint
		pos[rs.Feature] = i
	}

	modelFeatureIdx := make([]int, len(cfg.ModelParams.Features))
	for i, f := range cfg.ModelParams.Features {
		idx, ok := pos[f]
		if !ok {
			return nil, fmt.Errorf("controller: model_params.features references unknown feature %q", f)
		}
		modelFeatureIdx[i] = idx
	}

	mode := ModeMonitoring
	if anomalyDetect {
		mode = ModeTraining
	}

	return &Controller{
		log:             log,
		cfg:             cfg,
		objs:            objs,
		sup:             sup,
		metrics:         metrics,
		writer:          artifact.Writer{OutDir: outDir, RunLabel: runLabel},
		rawCfg:          rawCfg,
		runLabel:        runLabel,
		anomalyDetect:   anomalyDetect,
		trainTime:       trainTime,
		mscale:          mscale,
		sscale:          sscale,
		features:        features,
		featureIdx:      featureIdx,
		modelFeatureIdx: modelFeatureIdx,
		mode:            mode,
		windowStart:     time.Now(),
	}, nil
}

// Run drives the 1-second poll loop until ctx is cancelled, then performs
// the stopped-state artifact dump (spec §4.F). It returns once shutdown is
// complete.
func (c *Controller) Run(ctx context.Context) error {
	c.metrics.SetMode(c.currentMode().String())
	c.log.Info("controller starting", zap.String("mode", c.currentMode().String()), zap.Bool("ano_detect", c.anomalyDetect))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.shutdown()
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Controller) currentMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) setMode(m Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
	c.metrics.SetMode(m.String())
}

func (c *Controller) tick() {
	switch c.currentMode() {
	case ModeTraining:
		c.tickTraining()
	case ModeMonitoring:
		c.tickMonitoring()
	case ModeDetection:
		c.tickDetection()
	}
}

func (c *Controller) tickTraining() {
	c.mu.Lock()
	elapsed := time.Since(c.windowStart)
	c.mu.Unlock()
	if elapsed < c.trainTime {
		return
	}

	snap, err := c.objs.Fingerprints().Snapshot()
	if err != nil {
		c.log.Warn("training snapshot read failed", zap.Error(err))
		return
	}
	samples := detector.FromSnapshot(snap, c.featureIdx)
	if len(samples) == 0 {
		c.log.Warn("training window empty, restarting")
		c.metrics.TrainingWindowRestartsTotal.Inc()
		c.mu.Lock()
		c.windowStart = time.Now()
		c.mu.Unlock()
		return
	}

	c.metrics.FingerprintsObservedTotal.Add(float64(len(samples)))

	model, cleaned, err := detector.Fit(project(samples, c.modelFeatureIdx), c.cfg.ModelParams.K, c.mscale, c.sscale)
	if err != nil {
		c.log.Error("model fit failed, restarting training window", zap.Error(err))
		c.metrics.TrainingWindowRestartsTotal.Inc()
		c.mu.Lock()
		c.windowStart = time.Now()
		c.mu.Unlock()
		return
	}

	if err := detector.Publish(c.objs, model); err != nil {
		c.log.Error("model publication failed, restarting training window", zap.Error(err))
		c.metrics.TrainingWindowRestartsTotal.Inc()
		c.mu.Lock()
		c.windowStart = time.Now()
		c.mu.Unlock()
		return
	}
	c.metrics.ModelPublishedTotal.Inc()
	for k, t := range model.Thresholds {
		c.metrics.ClusterThreshold.WithLabelValues(fmt.Sprintf("%d", k)).Set(t)
	}

	c.mu.Lock()
	c.trainRows = cleaned
	c.model = model
	c.mu.Unlock()

	c.log.Info("training complete, transitioning to detection",
		zap.Int("rows", len(samples)), zap.Int("k", c.cfg.ModelParams.K))
	c.setMode(ModeDetection)
}

func (c *Controller) tickMonitoring() {
	c.metrics.ProbesAttached.Set(float64(c.sup.Attached()))
}

func (c *Controller) tickDetection() {
	snap, err := c.objs.Fingerprints().Snapshot()
	if err != nil {
		c.log.Warn("detection snapshot read failed", zap.Error(err))
		return
	}
	samples := detector.FromSnapshot(snap, c.featureIdx)

	c.mu.Lock()
	seen := make(map[uint64]bool, len(c.testRows))
	for _, s := range c.testRows {
		seen[s.RID] = true
	}
	added := 0
	for _, s := range samples {
		if !seen[s.RID] {
			c.testRows = append(c.testRows, s)
			added++
		}
	}
	c.mu.Unlock()
	if added > 0 {
		c.metrics.FingerprintsObservedTotal.Add(float64(added))
	}

	c.metrics.FingerprintsLive.Set(float64(countLive(snap)))
	c.metrics.ProbesAttached.Set(float64(c.sup.Attached()))
}

func countLive(snap map[uint64]dataplane.RawFingerprint) int {
	n := 0
	for _, fp := range snap {
		if fp.Live() {
			n++
		}
	}
	return n
}

// project slices each sample's feature vector down to the indices in idx,
// used to restrict the full feature list F to model_params.features.
func project(samples []detector.Sample, idx []int) []detector.Sample {
	out := make([]detector.Sample, len(samples))
	for i, s := range samples {
		features := make([]float64, len(idx))
		for j, k := range idx {
			features[j] = s.Features[k]
		}
		out[i] = detector.Sample{RID: s.RID, OriginIP: s.OriginIP, OriginTS: s.OriginTS, CompletionTS: s.CompletionTS, Features: features}
	}
	return out
}

func (c *Controller) shutdown() error {
	c.setMode(ModeStopped)
	c.log.Info("shutting down, detaching probes")
	c.sup.DetachAll()
	c.metrics.ProbesAttached.Set(0)

	if err := c.writer.CopyConfig(c.rawCfg); err != nil {
		c.log.Error("artifact dump: config copy failed", zap.Error(err))
	}

	c.mu.Lock()
	trainRows, testRows, model := c.trainRows, c.testRows, c.model
	c.mu.Unlock()

	if len(trainRows) > 0 {
		if err := c.writer.WriteTrainSet(c.cfg.ModelParams.Features, trainRows); err != nil {
			c.log.Error("artifact dump: train set failed", zap.Error(err))
		}
	}
	if len(testRows) > 0 {
		if err := c.writer.WriteTestSet(c.features, testRows); err != nil {
			c.log.Error("artifact dump: test set failed", zap.Error(err))
		}
	}

	if model != nil {
		if err := c.dumpModelArtifacts(model); err != nil {
			c.log.Error("artifact dump: model artifacts failed", zap.Error(err))
		}
		if err := c.dumpScores(len(model.Thresholds)); err != nil {
			c.log.Error("artifact dump: scores failed", zap.Error(err))
		}
	}

	c.log.Info("shutdown complete")
	return nil
}

func (c *Controller) dumpModelArtifacts(m *detector.Model) error {
	meanFixed := make([]uint64, len(m.Mean))
	stdFixed := make([]uint64, len(m.Std))
	trainSetParams := make([]uint64, 0, 2*len(m.Mean))
	for i := range m.Mean {
		meanFixed[i] = c.mscale.ToUnsigned(m.Mean[i])
		stdFixed[i] = c.sscale.ToUnsigned(m.Std[i])
		trainSetParams = append(trainSetParams, meanFixed[i], stdFixed[i])
	}
	if err := c.writer.WriteNormalization(c.cfg.ModelParams.Features, meanFixed, stdFixed); err != nil {
		return err
	}

	k := len(m.Thresholds)
	l1Fixed := make([]int64, k)
	thresholdFixed := make([]uint64, k)
	cscale := m.CScale()
	for i := 0; i < k; i++ {
		l1Fixed[i] = detector.RoundSigned(m.CentroidL1Sum(i) * cscale)
		thresholdFixed[i] = detector.RoundUnsigned(m.Thresholds[i] * cscale)
	}
	if err := c.writer.WriteClusters(l1Fixed, thresholdFixed); err != nil {
		return err
	}
	return c.writer.WriteModelParams(trainSetParams, thresholdFixed)
}

func (c *Controller) dumpScores(k int) error {
	snap, err := c.objs.OutlierScoresView().Snapshot()
	if err != nil {
		return fmt.Errorf("read outlier_scores_m: %w", err)
	}

	scores := make([]artifact.ScoredSample, 0, len(snap))
	for rid, s := range snap {
		per := make([]float64, k)
		argMin := 0
		for i := 0; i < k; i++ {
			per[i] = float64(s.Distances[i])
			if absI64(s.Distances[i]) < absI64(s.Distances[argMin]) {
				argMin = i
			}
		}
		outlier := s.IsOutlier != 0
		if outlier {
			c.metrics.OutliersDetectedTotal.Inc()
			c.outliers++
		}
		scores = append(scores, artifact.ScoredSample{
			RID:              rid,
			Score:            per[argMin],
			DetectionTS:      s.DetectionTS,
			DetectionCPUTime: s.DetectionCPUTime,
			LastTS:           s.LastTS,
			IsOutlier:        outlier,
			PerClusterScores: per,
		})
	}
	return c.writer.WriteScores(k, scores)
}

func absI64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// Status implements operator.StatusSnapshot.
func (c *Controller) Status() operator.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return operator.Status{
		Mode:             c.mode.String(),
		RunLabel:         c.runLabel,
		ProbesAttached:   c.sup.Attached(),
		FingerprintsLive: countLiveSafe(c.objs),
	}
}

// ClusterThresholds implements operator.StatusSnapshot.
func (c *Controller) ClusterThresholds() []operator.ClusterStatus {
	c.mu.Lock()
	m := c.model
	c.mu.Unlock()
	if m == nil {
		return nil
	}
	cscale := m.CScale()
	out := make([]operator.ClusterStatus, len(m.Thresholds))
	for i, t := range m.Thresholds {
		out[i] = operator.ClusterStatus{Index: i, Threshold: detector.RoundUnsigned(t * cscale)}
	}
	return out
}

// RunSummary reports counts for the storage run ledger (spec §4.storage),
// read at the end of Run once shutdown has completed.
func (c *Controller) RunSummary() (mode string, trainingRows, testRows, outliers int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode.String(), len(c.trainRows), len(c.testRows), c.outliers
}

func countLiveSafe(objs *dataplane.Objects) int {
	snap, err := objs.Fingerprints().Snapshot()
	if err != nil {
		return 0
	}
	return countLive(snap)
}
