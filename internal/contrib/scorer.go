// Package contrib — scorer.go
//
// Plugin interface for custom outlier scorers.
//
// The primary extension point is the OutlierScorer interface, which lets a
// deployment replace or augment the built-in L1-threshold scorer with
// custom logic (e.g. a different distance metric, or a scorer that folds
// in signals the data plane doesn't carry).
//
// Plugin registration:
//
//	Plugins register themselves in an init() function using RegisterScorer().
//	GetScorer looks a scorer up by name (no configuration field selects
//	one, and the controller does not call this package); the built-in is
//	"l1-threshold", the
//	same contract the data plane evaluates (spec §4.E "Contract with the
//	data plane") re-expressed in floating point for offline/test use —
//	this package does not run on the hot path, the data plane does.
//
// Plugin contract:
//   - Score() must be goroutine-safe.
//   - Score() must not panic.
//   - Name() must return a stable, unique string.
package contrib

import (
	"fmt"
	"sync"
)

// BaselineSnapshot is the read-only view of a fitted model passed to
// custom scorers.
type BaselineSnapshot struct {
	// Mean, Std are the per-feature standardization parameters.
	Mean, Std []float64

	// CentroidL1Sums is Σ_c C_k[c] per cluster, in standardized space.
	CentroidL1Sums []float64

	// Thresholds is T_k per cluster.
	Thresholds []float64
}

// ScoreRequest is the input to OutlierScorer.Score().
type ScoreRequest struct {
	// Features is the raw (unstandardized) feature vector for one
	// fingerprint.
	Features []float64

	Baseline *BaselineSnapshot
}

// ScoreResult is the output of OutlierScorer.Score().
type ScoreResult struct {
	// Distances is d_k for every cluster.
	Distances []float64

	// ArgMin is the index of the cluster with the smallest |d_k|.
	ArgMin int

	// Score is d_{ArgMin}, the value artifact writers put in scores_*.csv.
	Score float64

	IsOutlier bool
}

// OutlierScorer is the interface custom scorers must implement.
type OutlierScorer interface {
	// Name returns the unique identifier for this scorer.
	Name() string

	// Score computes distances to every cluster and the outlier verdict.
	Score(req ScoreRequest) (ScoreResult, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]OutlierScorer)
)

// RegisterScorer registers a custom outlier scorer. Panics if a scorer
// with the same name is already registered; call from an init() function
// in a plugin package.
func RegisterScorer(s OutlierScorer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[s.Name()]; exists {
		panic(fmt.Sprintf("contrib: scorer %q already registered", s.Name()))
	}
	registry[s.Name()] = s
}

// GetScorer returns the registered scorer with the given name.
func GetScorer(name string) (OutlierScorer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("contrib: scorer %q not registered (available: %v)", name, listNames())
	}
	return s, nil
}

// ListScorers returns the names of all registered scorers.
func ListScorers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return listNames()
}

func listNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	return names
}

// L1ThresholdScorer implements the data plane's scoring contract (spec
// §4.E) in floating point: normalize the feature vector, sum it per
// cluster against each centroid's L1 sum, and flag an outlier when the
// smallest absolute distance exceeds that cluster's threshold.
// Registered as "l1-threshold".
type L1ThresholdScorer struct{}

func init() {
	RegisterScorer(&L1ThresholdScorer{})
}

func (L1ThresholdScorer) Name() string { return "l1-threshold" }

func (L1ThresholdScorer) Score(req ScoreRequest) (ScoreResult, error) {
	b := req.Baseline
	if b == nil {
		return ScoreResult{}, fmt.Errorf("l1-threshold: no baseline available")
	}
	if len(req.Features) != len(b.Mean) {
		return ScoreResult{}, fmt.Errorf("l1-threshold: dimension mismatch: features=%d baseline=%d", len(req.Features), len(b.Mean))
	}

	var l1 float64
	for c, v := range req.Features {
		l1 += (v - b.Mean[c]) / b.Std[c]
	}

	k := len(b.CentroidL1Sums)
	distances := make([]float64, k)
	argMin := 0
	for i := 0; i < k; i++ {
		d := l1 - b.CentroidL1Sums[i]
		distances[i] = d
		if absF(d) < absF(distances[argMin]) {
			argMin = i
		}
	}

	isOutlier := absF(distances[argMin]) > b.Thresholds[argMin]
	return ScoreResult{
		Distances: distances,
		ArgMin:    argMin,
		Score:     distances[argMin],
		IsOutlier: isOutlier,
	}, nil
}

func absF(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
