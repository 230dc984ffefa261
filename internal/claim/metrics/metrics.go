package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for claim runs and the freeze reconciler.
type Metrics struct {
	// Claim outcomes: recorded, already_claimed, pending, partially_issued, rejected
	Outcomes *prometheus.CounterVec

	// Wall time of a run from lock to terminal or parked state
	RunDuration prometheus.Histogram

	// Lock wait per (event, identity)
	LockWait prometheus.Histogram

	// Freeze attempts by result
	FreezeAttempts *prometheus.CounterVec

	// Reconciler passes by result: resolved, still_open, error
	Reconciled *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlens_claim_outcomes_total",
			Help: "Claim run outcomes",
		}, []string{"outcome"}),

		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventlens_claim_run_duration_seconds",
			Help:    "Duration of claim runs",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		LockWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventlens_claim_lock_wait_seconds",
			Help:    "Time spent waiting for the per-claimant lock",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5},
		}),

		FreezeAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlens_claim_freeze_attempts_total",
			Help: "Freeze attempts by result",
		}, []string{"result"}),

		Reconciled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlens_claim_reconciled_total",
			Help: "Open issuances visited by the reconciler, by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.Observe(d.Seconds())
}

func (m *Metrics) IncFreeze(result string) {
	if m == nil {
		return
	}
	m.FreezeAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) IncReconciled(result string) {
	if m == nil {
		return
	}
	m.Reconciled.WithLabelValues(result).Inc()
}
