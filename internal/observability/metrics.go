package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service together with the
// rolling stage window served on /v1/perf/latency.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	ActiveCaptures  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	CaptureOutcomes *prometheus.CounterVec
	ArtifactBytes   prometheus.Histogram
	StageLatency    *prometheus.HistogramVec
	ProviderErrors  *prometheus.CounterVec

	Stages *StageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of open conversation sessions.",
		}),
		ActiveCaptures: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_captures",
			Help:      "Number of capture sessions currently recording.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		CaptureOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_outcomes_total",
			Help:      "Finished capture cycles by stop reason and outcome.",
		}, []string{"reason", "outcome"}),
		ArtifactBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_artifact_bytes",
			Help:      "Size of encoded capture artifacts in bytes.",
			Buckets:   prometheus.ExponentialBuckets(4096, 2, 10),
		}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Latency of assistant turn stages in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 3000, 5000, 8000, 13000},
		}, []string{"stage"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider, operation and code.",
		}, []string{"provider", "op", "code"}),
		Stages: NewStageWindow(256),
	}
}

// ObserveStage records one stage duration in both the histogram and the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.Stages.Observe(stage, ms)
}

// ObserveCapture records a finished capture cycle. bytes is zero when no artifact was produced.
func (m *Metrics) ObserveCapture(reason, outcome string, bytes int) {
	if m == nil {
		return
	}
	m.CaptureOutcomes.WithLabelValues(reason, outcome).Inc()
	if bytes > 0 {
		m.ArtifactBytes.Observe(float64(bytes))
	}
	m.Stages.ObserveIndicator("capture_" + outcome)
}

func (m *Metrics) ObserveProviderError(provider, op, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, op, code).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
