// Package dataplane provides typed read/write access to the shared maps
// exported by the instrumentation program: fingerprints, model parameters,
// the outlier table, and the notification ring buffer (spec §3, §4.D).
//
// Responsibilities mirror the teacher's bpf.Load(): load the instrumentation
// object (after the template rewriter has produced its "_rewritten"
// sibling), validate that every expected map is present, and hand back a
// narrow set of typed views rather than an untyped *ebpf.Map per caller.
//
// Ownership and lifecycle (spec §3):
//   - The data plane exclusively owns the live tables; user space has read
//     access everywhere, plus initialization-time write access to
//     train_set_params, cluster_thresholds, centroid_l1s, centroid_offset.
//   - Datapoints and outlier_scores_m are created by the kernel-side probes
//     on request entry/exit and only read from here (FingerprintView.Delete
//     can remove a datapoints entry, but nothing calls it).
package dataplane

import (
	"fmt"

	"github.com/cilium/ebpf"
)

// Map names as declared by the instrumentation program. Must match the
// identifiers the template rewriter leaves untouched in the source.
const (
	MapDatapoints        = "datapoints"
	MapTrainSetParams    = "train_set_params"
	MapCentroidOffset    = "centroid_offset"
	MapCentroidL1s       = "centroid_l1s"
	MapClusterThresholds = "cluster_thresholds"
	MapOutlierScores     = "outlier_scores_m"
	MapNotificationEvt   = "notification_evt"
)

// MaxFeatures and MaxClusters bound the fixed-size arrays embedded in the
// fingerprint and outlier-score map values. The instrumentation program is
// compiled against the same bounds; f and K at runtime must not exceed them.
const (
	MaxFeatures = 16
	MaxClusters = 32
)

// Objects holds references to every map the data plane exports, plus any
// loaded programs that must be attached by the probe supervisor.
type Objects struct {
	Datapoints        *ebpf.Map
	TrainSetParams    *ebpf.Map
	CentroidOffset    *ebpf.Map
	CentroidL1s       *ebpf.Map
	ClusterThresholds *ebpf.Map
	OutlierScores     *ebpf.Map
	NotificationEvt   *ebpf.Map

	coll *ebpf.Collection
}

// Load reads the rewritten instrumentation-program ELF from rewrittenPath
// and returns an Objects exposing its maps. Programs are left in the
// returned *ebpf.Collection for the probe supervisor to attach; Objects
// itself owns no program handles because attachment is the supervisor's
// concern, not the data plane's (spec §4.C vs §4.D separation of duties).
//
// Any failure here is fatal to startup (spec §7: "Instrumentation
// compile/load failure").
func Load(rewrittenPath string) (*Objects, error) {
	spec, err := ebpf.LoadCollectionSpec(rewrittenPath)
	if err != nil {
		return nil, fmt.Errorf("dataplane.Load: load spec %q: %w", rewrittenPath, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("dataplane.Load: new collection: %w", err)
	}

	o := &Objects{
		Datapoints:        coll.Maps[MapDatapoints],
		TrainSetParams:    coll.Maps[MapTrainSetParams],
		CentroidOffset:    coll.Maps[MapCentroidOffset],
		CentroidL1s:       coll.Maps[MapCentroidL1s],
		ClusterThresholds: coll.Maps[MapClusterThresholds],
		OutlierScores:     coll.Maps[MapOutlierScores],
		NotificationEvt:   coll.Maps[MapNotificationEvt],
		coll:              coll,
	}

	if err := o.validate(); err != nil {
		o.Close()
		return nil, fmt.Errorf("dataplane.Load: %w", err)
	}
	return o, nil
}

// Collection exposes the underlying *ebpf.Collection so the probe
// supervisor can look up programs by name for attachment.
func (o *Objects) Collection() *ebpf.Collection {
	return o.coll
}

func (o *Objects) validate() error {
	var missing []string
	check := func(name string, m *ebpf.Map) {
		if m == nil {
			missing = append(missing, "map:"+name)
		}
	}
	check(MapDatapoints, o.Datapoints)
	check(MapTrainSetParams, o.TrainSetParams)
	check(MapCentroidOffset, o.CentroidOffset)
	check(MapCentroidL1s, o.CentroidL1s)
	check(MapClusterThresholds, o.ClusterThresholds)
	check(MapOutlierScores, o.OutlierScores)
	check(MapNotificationEvt, o.NotificationEvt)
	if len(missing) > 0 {
		return fmt.Errorf("missing data-plane objects: %v", missing)
	}
	return nil
}

// Close releases every map and the collection. Safe to call multiple times;
// detachment of programs is the probe supervisor's responsibility, not
// this package's.
func (o *Objects) Close() {
	for _, m := range []*ebpf.Map{
		o.Datapoints, o.TrainSetParams, o.CentroidOffset,
		o.CentroidL1s, o.ClusterThresholds, o.OutlierScores, o.NotificationEvt,
	} {
		if m != nil {
			_ = m.Close()
		}
	}
	if o.coll != nil {
		o.coll.Close()
	}
}
