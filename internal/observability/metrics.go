// Package observability — metrics.go
//
// Prometheus metrics for finelame.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: finelame_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for finelame.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Probes ───────────────────────────────────────────────────────────

	// ProbesAttached is the current count of attached probes (software +
	// hardware).
	ProbesAttached prometheus.Gauge

	// ProbeAttachFailuresTotal counts hardware perf attach failures that
	// were logged and skipped rather than treated as fatal.
	ProbeAttachFailuresTotal *prometheus.CounterVec

	// ─── Fingerprints ─────────────────────────────────────────────────────

	// FingerprintsLive is the current count of open (unfrozen)
	// fingerprints observed in the last snapshot.
	FingerprintsLive prometheus.Gauge

	// FingerprintsObservedTotal counts fingerprints seen across all
	// snapshots taken (training + detection).
	FingerprintsObservedTotal prometheus.Counter

	// ─── Detector ─────────────────────────────────────────────────────────

	// TrainingWindowRestartsTotal counts training window restarts: an empty
	// snapshot (spec §7 "Empty training snapshot"), a failed model fit, or a
	// failed model publication.
	TrainingWindowRestartsTotal prometheus.Counter

	// ModelPublishedTotal counts successful model publications (at most 1
	// per run, but counted for visibility across restarts/retries).
	ModelPublishedTotal prometheus.Counter

	// ClusterThreshold records the published per-cluster threshold value,
	// labeled by cluster index — useful for comparing runs.
	ClusterThreshold *prometheus.GaugeVec

	// ─── Outliers ─────────────────────────────────────────────────────────

	// OutliersDetectedTotal counts fingerprints flagged is_outlier=1 as of
	// the last snapshot read.
	OutliersDetectedTotal prometheus.Counter

	// ─── Notification channel ─────────────────────────────────────────────

	// NotificationsReceivedTotal counts decoded ring-buffer notifications.
	NotificationsReceivedTotal prometheus.Counter

	// NotificationsDroppedTotal counts notifications dropped due to queue
	// overflow.
	NotificationsDroppedTotal prometheus.Counter

	// ─── Controller ───────────────────────────────────────────────────────

	// PipelineState reports the current controller mode as a label set
	// (training=1/monitoring=1/detection=1/stopped=1, others 0).
	PipelineState *prometheus.GaugeVec

	// ─── Process ──────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since process start.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all finelame Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		ProbesAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "finelame",
			Subsystem: "probes",
			Name:      "attached",
			Help:      "Current count of attached software and hardware probes.",
		}),

		ProbeAttachFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finelame",
			Subsystem: "probes",
			Name:      "attach_failures_total",
			Help:      "Total hardware perf attach failures, logged and skipped.",
		}, []string{"event"}),

		FingerprintsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "finelame",
			Subsystem: "fingerprints",
			Name:      "live",
			Help:      "Count of open fingerprints as of the last snapshot.",
		}),

		FingerprintsObservedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finelame",
			Subsystem: "fingerprints",
			Name:      "observed_total",
			Help:      "Total frozen fingerprints observed across all snapshots.",
		}),

		TrainingWindowRestartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finelame",
			Subsystem: "detector",
			Name:      "training_window_restarts_total",
			Help:      "Total training window restarts due to an empty snapshot or a failed fit or publication.",
		}),

		ModelPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finelame",
			Subsystem: "detector",
			Name:      "model_published_total",
			Help:      "Total successful model publications to the data plane.",
		}),

		ClusterThreshold: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "finelame",
			Subsystem: "detector",
			Name:      "cluster_threshold",
			Help:      "Published per-cluster L1 threshold, by cluster index.",
		}, []string{"cluster"}),

		OutliersDetectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finelame",
			Subsystem: "detector",
			Name:      "outliers_detected_total",
			Help:      "Total fingerprints observed with is_outlier=1.",
		}),

		NotificationsReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finelame",
			Subsystem: "notify",
			Name:      "received_total",
			Help:      "Total decoded notification ring-buffer records.",
		}),

		NotificationsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finelame",
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Total notifications dropped due to queue overflow.",
		}),

		PipelineState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "finelame",
			Subsystem: "controller",
			Name:      "pipeline_state",
			Help:      "1 for the controller's current mode, 0 for all others.",
		}, []string{"mode"}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "finelame",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since process start.",
		}),
	}

	reg.MustRegister(
		m.ProbesAttached,
		m.ProbeAttachFailuresTotal,
		m.FingerprintsLive,
		m.FingerprintsObservedTotal,
		m.TrainingWindowRestartsTotal,
		m.ModelPublishedTotal,
		m.ClusterThreshold,
		m.OutliersDetectedTotal,
		m.NotificationsReceivedTotal,
		m.NotificationsDroppedTotal,
		m.PipelineState,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// SetMode zeroes every known mode label and sets mode to 1, so the gauge
// vector always reflects exactly one active state.
func (m *Metrics) SetMode(mode string) {
	for _, known := range []string{"training", "monitoring", "detection", "stopped"} {
		v := 0.0
		if known == mode {
			v = 1.0
		}
		m.PipelineState.WithLabelValues(known).Set(v)
	}
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// address. Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the UptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
