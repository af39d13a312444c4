// Package prometheus implements the metrics interfaces of clustergate's
// components on top of the shared registry in pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/clustergate/pkg/metrics"
)

// AdmissionMetrics records admission attempts.
type AdmissionMetrics struct {
	attempts      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	endpoints     prometheus.Gauge
	authenticated prometheus.Gauge
}

// NewAdmissionMetrics returns nil if metrics are not enabled.
func NewAdmissionMetrics() *AdmissionMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &AdmissionMetrics{
		attempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "admission_attempts_total",
				Help:      "Admission attempts by mechanism and outcome",
			},
			[]string{"mechanism", "outcome"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Name:      "admission_duration_seconds",
				Help:      "Time spent deciding an admission attempt",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"mechanism"},
		),
		endpoints: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Name:      "client_endpoints",
			Help:      "Client endpoints currently registered",
		}),
		authenticated: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Name:      "client_endpoints_authenticated",
			Help:      "Client endpoints currently authenticated",
		}),
	}
}

// RecordAttempt counts one admission attempt.
func (m *AdmissionMetrics) RecordAttempt(mechanism, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(mechanism, outcome).Inc()
	m.duration.WithLabelValues(mechanism).Observe(d.Seconds())
}

// SetEndpoints publishes registry sizes.
func (m *AdmissionMetrics) SetEndpoints(total, authenticated int) {
	if m == nil {
		return
	}
	m.endpoints.Set(float64(total))
	m.authenticated.Set(float64(authenticated))
}
