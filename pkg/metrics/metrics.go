package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vpn_recommendation"

// Metrics holds the study collectors
type Metrics struct {
	// Telemetry
	TelemetryEvents *prometheus.CounterVec

	// Policy engine
	Decisions      *prometheus.CounterVec
	SessionsOpen   prometheus.Gauge
	SessionResults *prometheus.CounterVec

	// Connectivity prober
	ProbeRuns      *prometheus.CounterVec
	ProbeAttempts  prometheus.Histogram
	ProbeCoalesced prometheus.Counter

	// Pipeline
	JobsQueued   prometheus.Gauge
	JobsDropped  *prometheus.CounterVec
	JobDurations *prometheus.HistogramVec

	// Host bridge
	SurfacesConnected prometheus.Gauge
	SignalsThrottled  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses a
// private registry, which keeps tests independent.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		TelemetryEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telemetry_events_total",
				Help:      "Telemetry records emitted, by event name",
			},
			[]string{"event", "message_type"},
		),
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_decisions_total",
				Help:      "Policy evaluations by trigger and decision",
			},
			[]string{"trigger", "decision"},
		),
		SessionsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "notification_sessions_open",
				Help:      "Notification sessions currently on screen",
			},
		),
		SessionResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_results_total",
				Help:      "Closed notification sessions by outcome",
			},
			[]string{"outcome"},
		),
		ProbeRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connectivity_probes_total",
				Help:      "Completed connectivity probe runs by result",
			},
			[]string{"result"},
		),
		ProbeAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connectivity_probe_attempts",
				Help:      "Attempts used per connectivity probe run",
				Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
			},
		),
		ProbeCoalesced: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connectivity_probes_coalesced_total",
				Help:      "Captive portal signals ignored while a probe was in flight",
			},
		),
		JobsQueued: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pipeline_jobs_queued",
				Help:      "Jobs waiting in the pipeline queue",
			},
		),
		JobsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_jobs_dropped_total",
				Help:      "Jobs dropped by the pipeline, by reason",
			},
			[]string{"reason"},
		),
		JobDurations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_job_duration_seconds",
				Help:      "Time spent processing a pipeline job",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"job"},
		),
		SurfacesConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "surfaces_connected",
				Help:      "Browsing surfaces connected to the host bridge",
			},
		),
		SignalsThrottled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_throttled_total",
				Help:      "Host signals rejected by the ingress rate limiter",
			},
			[]string{"signal"},
		),
	}
}

// ObserveJob records the duration of one pipeline job.
func (m *Metrics) ObserveJob(job string, start time.Time) {
	if m == nil {
		return
	}
	m.JobDurations.WithLabelValues(job).Observe(time.Since(start).Seconds())
}
