package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions      *prometheus.CounterVec
	StoreErrors    prometheus.Counter
	FallbackActive prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlens_ratelimit_decisions_total",
			Help: "Rate limit decisions by endpoint class and outcome",
		}, []string{"class", "decision"}),
		StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventlens_ratelimit_store_errors_total",
			Help: "Errors returned by the primary rate limit store",
		}),
		FallbackActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eventlens_ratelimit_fallback_active",
			Help: "1 while rate limiting runs on the in-process fallback store",
		}),
	}
}

func (m *Metrics) IncDecision(class string, allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.Decisions.WithLabelValues(class, decision).Inc()
}

func (m *Metrics) IncStoreError() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}

func (m *Metrics) SetFallbackActive(active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.FallbackActive.Set(v)
}
