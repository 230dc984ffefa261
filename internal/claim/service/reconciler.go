package service

import (
	"context"
	"errors"
	"time"

	"eventlens/internal/claim/models"
	"eventlens/internal/platform/config"
	"eventlens/pkg/platform/sentinel"
)

// ReconcileResult summarizes one pass.
type ReconcileResult struct {
	Visited   int `json:"visited"`
	Resolved  int `json:"resolved"`
	StillOpen int `json:"still_open"`
	Failed    int `json:"failed"`
}

// Reconciler finishes issuances that no live run owns any more: transfers
// left unconfirmed, freezes that ran out of retries, records that failed.
type Reconciler struct {
	claims    *Service
	interval  time.Duration
	batchSize int
	minAge    time.Duration
	now       func() time.Time
}

func NewReconciler(claims *Service, cfg config.ReconcilerConfig) *Reconciler {
	r := &Reconciler{
		claims:    claims,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		minAge:    cfg.MinAge,
		now:       time.Now,
	}
	if r.interval <= 0 {
		r.interval = 30 * time.Second
	}
	if r.batchSize <= 0 {
		r.batchSize = 50
	}
	return r
}

// Run reconciles on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.claims.logger.ErrorContext(ctx, "reconcile pass failed", "error", err)
			}
		}
	}
}

// RunOnce visits up to one batch of stale issuances.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	stale, err := r.claims.store.ListUnresolvedIssuances(ctx, r.now().Add(-r.minAge), r.batchSize)
	if err != nil {
		return res, err
	}
	for _, iss := range stale {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Visited++
		out, err := r.claims.Resume(ctx, iss.EventID, iss.Identity)
		switch {
		case err != nil:
			res.Failed++
			r.claims.metrics.IncReconciled("error")
			r.claims.logger.WarnContext(ctx, "issuance still unresolved",
				"event_id", iss.EventID,
				"identity", iss.Identity,
				"state", iss.State,
				"error", err,
			)
		case out == nil || out.Recorded:
			res.Resolved++
			r.claims.metrics.IncReconciled("resolved")
		default:
			res.StillOpen++
			r.claims.metrics.IncReconciled("still_open")
		}
	}
	if res.Visited > 0 {
		r.claims.logger.InfoContext(ctx, "reconcile pass",
			"visited", res.Visited,
			"resolved", res.Resolved,
			"still_open", res.StillOpen,
			"failed", res.Failed,
		)
	}
	return res, nil
}

// Resume continues a journaled issuance from its saved state under the pair
// lock. A nil outcome with no error means the issuance was already gone.
func (s *Service) Resume(ctx context.Context, eventID, identity string) (*models.Outcome, error) {
	unlock, err := s.locker.Lock(ctx, pairKey(eventID, identity))
	if err != nil {
		return nil, err
	}
	defer unlock()

	iss, err := s.store.GetIssuance(ctx, eventID, identity)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()
	return s.advance(runCtx, models.ResumeRun(iss.State), event, iss)
}
