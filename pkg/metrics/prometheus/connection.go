package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/clustergate/pkg/metrics"
)

// ConnectionMetrics records member transport connection lifecycle.
type ConnectionMetrics struct {
	accepted    prometheus.Counter
	closed      prometheus.Counter
	forceClosed prometheus.Counter
	active      prometheus.Gauge
	requests    *prometheus.CounterVec
}

// NewConnectionMetrics returns nil if metrics are not enabled.
func NewConnectionMetrics() *ConnectionMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &ConnectionMetrics{
		accepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Name:      "connections_accepted_total",
			Help:      "Client connections accepted",
		}),
		closed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Name:      "connections_closed_total",
			Help:      "Client connections closed",
		}),
		forceClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Name:      "connections_force_closed_total",
			Help:      "Client connections force-closed at shutdown",
		}),
		active: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Name:      "connections_active",
			Help:      "Client connections currently open",
		}),
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "requests_total",
				Help:      "Requests served by command and status",
			},
			[]string{"command", "status"},
		),
	}
}

func (m *ConnectionMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
}

func (m *ConnectionMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.closed.Inc()
}

func (m *ConnectionMetrics) RecordConnectionForceClosed() {
	if m == nil {
		return
	}
	m.forceClosed.Inc()
}

func (m *ConnectionMetrics) SetActiveConnections(count int32) {
	if m == nil {
		return
	}
	m.active.Set(float64(count))
}

// RecordRequest counts one served request.
func (m *ConnectionMetrics) RecordRequest(command, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(command, status).Inc()
}
