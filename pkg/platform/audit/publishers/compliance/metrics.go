package compliance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	writes   *prometheus.CounterVec
	duration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		writes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlens_audit_compliance_writes_total",
			Help: "Synchronous compliance audit writes by result",
		}, []string{"result"}),
		duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventlens_audit_compliance_write_duration_seconds",
			Help:    "Latency of compliance audit writes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

func (m *Metrics) observe(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
	if err != nil {
		m.writes.WithLabelValues("failed").Inc()
		return
	}
	m.writes.WithLabelValues("ok").Inc()
}
