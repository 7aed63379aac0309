package metricscollector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromBridge mirrors every Collector.Record call into Prometheus series, the
// same way the teacher's observability package exposes scheduler internals
// as gauges/histograms (control_plane/observability/metrics.go) — except
// here the series describe queue-service client calls rather than task
// dispatch decisions.
type PromBridge struct {
	latency  *prometheus.HistogramVec
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

// NewPromBridge registers the bridge's series against reg. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid collisions across runs.
func NewPromBridge(reg prometheus.Registerer) *PromBridge {
	factory := promauto.With(reg)
	return &PromBridge{
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queueclient_latency_seconds",
			Help:    "Latency of queue-service client calls by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "queueclient_requests_total",
			Help: "Total queue-service client calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "queueclient_errors_total",
			Help: "Total queue-service client errors by operation and error class",
		}, []string{"operation", "class"}),
	}
}

func (p *PromBridge) observe(rec Record) {
	p.latency.WithLabelValues(string(rec.Operation)).Observe(rec.LatencyMs / 1000.0)

	outcome := "success"
	if !rec.Success {
		outcome = "failure"
	}
	p.requests.WithLabelValues(string(rec.Operation), outcome).Inc()

	if !rec.Success {
		p.errors.WithLabelValues(string(rec.Operation), string(classify(rec.HTTPStatus, rec.ErrorMessage))).Inc()
	}
}

var _ promSink = (*PromBridge)(nil)
