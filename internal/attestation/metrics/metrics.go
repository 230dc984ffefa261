package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for attendance verification.
type Metrics struct {
	// Signal gathering latencies by source
	SignalLatency *prometheus.HistogramVec

	// Verification outcomes: eligible, ineligible, rejected
	Outcomes *prometheus.CounterVec

	// Composite score distribution
	Composite prometheus.Histogram

	// Geo results: pass, fail, indeterminate
	GeoResults *prometheus.CounterVec

	// Metadata flags raised, by flag kind
	MetadataFlags *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		SignalLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventlens_attestation_signal_duration_seconds",
			Help:    "Duration of signal gathering by source",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),

		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlens_attestation_outcomes_total",
			Help: "Verification outcomes",
		}, []string{"outcome"}),

		Composite: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventlens_attestation_composite_score",
			Help:    "Composite confidence of completed verifications",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),

		GeoResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlens_attestation_geo_results_total",
			Help: "Geo-fence results",
		}, []string{"result"}),

		MetadataFlags: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlens_attestation_metadata_flags_total",
			Help: "Capture metadata flags raised",
		}, []string{"flag"}),
	}
}

func (m *Metrics) ObserveSignalLatency(source string, d time.Duration) {
	if m != nil {
		m.SignalLatency.WithLabelValues(source).Observe(d.Seconds())
	}
}

func (m *Metrics) IncOutcome(outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveComposite(score int) {
	if m != nil {
		m.Composite.Observe(float64(score))
	}
}

func (m *Metrics) IncGeoResult(result string) {
	if m != nil {
		m.GeoResults.WithLabelValues(result).Inc()
	}
}

// IncFlag counts a metadata flag. Editor flags collapse to "edited_with" to
// keep cardinality bounded.
func (m *Metrics) IncFlag(flag string) {
	if m == nil {
		return
	}
	if strings.HasPrefix(flag, "edited_with:") {
		flag = "edited_with"
	}
	m.MetadataFlags.WithLabelValues(flag).Inc()
}
