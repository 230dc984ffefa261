package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Calls       *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	ConfirmWait prometheus.Histogram
	OptInCache  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Calls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlens_ledger_calls_total",
			Help: "Ledger gateway calls by operation and result",
		}, []string{"op", "result"}),
		Latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventlens_ledger_call_duration_seconds",
			Help:    "Ledger gateway call latency by operation, retries included",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		ConfirmWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventlens_ledger_confirmation_wait_seconds",
			Help:    "Time from submission until the transaction was confirmed",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		OptInCache: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlens_ledger_optin_cache_total",
			Help: "Opt-in cache lookups by outcome",
		}, []string{"outcome"}), // hit, miss
	}
}

func (m *Metrics) call(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(op, result).Inc()
	m.Latency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) confirmed(d time.Duration) {
	if m != nil {
		m.ConfirmWait.Observe(d.Seconds())
	}
}

func (m *Metrics) cache(outcome string) {
	if m != nil {
		m.OptInCache.WithLabelValues(outcome).Inc()
	}
}
