package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/clustergate/pkg/metrics"
)

// EngineMetrics records operation engine activity.
type EngineMetrics struct {
	submitted  *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	completed  *prometheus.CounterVec
	queueDepth prometheus.Gauge
}

// NewEngineMetrics returns nil if metrics are not enabled.
func NewEngineMetrics() *EngineMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &EngineMetrics{
		submitted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "engine_operations_submitted_total",
				Help:      "Operations accepted by the engine",
			},
			[]string{"operation"},
		),
		rejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "engine_operations_rejected_total",
				Help:      "Operations refused because the engine was unavailable",
			},
			[]string{"operation"},
		),
		completed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "engine_operations_completed_total",
				Help:      "Operations finished, by result",
			},
			[]string{"operation", "result"}, // "ok", "error"
		),
		queueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Name:      "engine_queue_depth",
			Help:      "Operations waiting in partition queues",
		}),
	}
}

func (m *EngineMetrics) RecordSubmitted(op string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(op).Inc()
}

func (m *EngineMetrics) RecordRejected(op string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(op).Inc()
}

func (m *EngineMetrics) RecordCompleted(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.completed.WithLabelValues(op, result).Inc()
}

func (m *EngineMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}
