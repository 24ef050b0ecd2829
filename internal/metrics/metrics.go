// Package metrics exposes the process-wide Prometheus registry the
// orchestrator and spec loader record into. A private registry is used
// rather than the global default so tests can construct isolated
// instances without collector name collisions.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector this service exposes on /metrics.
type Metrics struct {
	Registry *prometheus.Registry

	GatesTotal             *prometheus.CounterVec
	GateDurationSeconds    *prometheus.HistogramVec
	SpecCacheHitsTotal     prometheus.Counter
	SpecCacheMissesTotal   prometheus.Counter
	WorkflowDurationSeconds *prometheus.HistogramVec
}

// New constructs and registers every collector against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		GatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cogni_reviewd_gates_total",
			Help: "Total gate evaluations by type and resulting status.",
		}, []string{"type", "status"}),
		GateDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cogni_reviewd_gate_duration_seconds",
			Help:    "Gate evaluation duration by type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		SpecCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cogni_reviewd_spec_cache_hits_total",
			Help: "Spec loader cache hits.",
		}),
		SpecCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cogni_reviewd_spec_cache_misses_total",
			Help: "Spec loader cache misses.",
		}),
		WorkflowDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cogni_reviewd_workflow_duration_seconds",
			Help:    "AI workflow invocation duration by workflow id.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow_id"}),
	}

	reg.MustRegister(
		m.GatesTotal,
		m.GateDurationSeconds,
		m.SpecCacheHitsTotal,
		m.SpecCacheMissesTotal,
		m.WorkflowDurationSeconds,
	)
	return m
}

// RecordGate observes both the counter and the duration histogram for one
// completed gate evaluation.
func (m *Metrics) RecordGate(gateType, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.GatesTotal.WithLabelValues(gateType, status).Inc()
	m.GateDurationSeconds.WithLabelValues(gateType).Observe(durationSeconds)
}
