package vision

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for outbound vision calls.
type Metrics struct {
	Calls        *prometheus.CounterVec
	Latency      prometheus.Histogram
	BreakerState prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Calls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlens_vision_calls_total",
			Help: "Vision assessments by result",
		}, []string{"result"}), // ok, http_error, malformed, breaker_open
		Latency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventlens_vision_call_duration_seconds",
			Help:    "Vision call latency including the retry",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eventlens_vision_breaker_open",
			Help: "1 while the vision circuit breaker is open",
		}),
	}
}

func (m *Metrics) call(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(result).Inc()
	if d > 0 {
		m.Latency.Observe(d.Seconds())
	}
}

func (m *Metrics) breaker(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
	} else {
		m.BreakerState.Set(0)
	}
}
