package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"eventlens/internal/platform/config"
	"eventlens/internal/ratelimit/metrics"
	"eventlens/internal/ratelimit/models"
	"eventlens/internal/ratelimit/observability"
	"eventlens/pkg/platform/circuit"
)

// BucketStore is a sliding-window counter keyed by string.
type BucketStore interface {
	AllowN(ctx context.Context, key string, cost int, limit int, window time.Duration) (*models.RateLimitResult, error)
}

// Limit is a request budget over a window.
type Limit struct {
	Requests int
	Window   time.Duration
}

type Service struct {
	primary      BucketStore
	fallback     BucketStore
	breaker      *circuit.Breaker
	defaultLimit Limit
	limits       map[models.EndpointClass]Limit
	security     observability.SecurityPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithSecurityPublisher(p observability.SecurityPublisher) Option {
	return func(s *Service) {
		s.security = p
	}
}

// WithFallback routes checks to store while breaker is open. Without it a
// primary store error is returned to the caller.
func WithFallback(store BucketStore, breaker *circuit.Breaker) Option {
	return func(s *Service) {
		s.fallback = store
		s.breaker = breaker
	}
}

// WithLimit overrides the budget for one endpoint class.
func WithLimit(class models.EndpointClass, limit Limit) Option {
	return func(s *Service) {
		s.limits[class] = limit
	}
}

// WithConfig sets the default budget.
func WithConfig(cfg config.RateLimitConfig) Option {
	return func(s *Service) {
		if cfg.Requests > 0 {
			s.defaultLimit.Requests = cfg.Requests
		}
		if cfg.Window > 0 {
			s.defaultLimit.Window = cfg.Window
		}
	}
}

func New(primary BucketStore, opts ...Option) (*Service, error) {
	if primary == nil {
		return nil, fmt.Errorf("bucket store is required")
	}
	s := &Service{
		primary:      primary,
		defaultLimit: Limit{Requests: 30, Window: time.Minute},
		limits:       make(map[models.EndpointClass]Limit),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fallback != nil && s.breaker == nil {
		s.breaker = circuit.New("ratelimit", circuit.WithOpenTimeout(10*time.Second))
	}
	return s, nil
}

func (s *Service) limitFor(class models.EndpointClass) Limit {
	if l, ok := s.limits[class]; ok {
		return l
	}
	return s.defaultLimit
}

// CheckIPRateLimit counts one request from ip against class's budget.
func (s *Service) CheckIPRateLimit(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error) {
	limit := s.limitFor(class)
	key := models.NewIPRateLimitKey(ip, class)

	result, err := s.allow(ctx, key, limit)
	if err != nil {
		return nil, err
	}

	s.metrics.IncDecision(string(class), result.Allowed)
	if !result.Allowed {
		observability.LogDenied(ctx, s.logger, s.security, ip, string(class), result.RetryAfter)
	}
	return result, nil
}

func (s *Service) allow(ctx context.Context, key string, limit Limit) (*models.RateLimitResult, error) {
	if s.fallback == nil {
		result, err := s.primary.AllowN(ctx, key, 1, limit.Requests, limit.Window)
		if err != nil {
			s.metrics.IncStoreError()
			return nil, fmt.Errorf("check rate limit: %w", err)
		}
		return result, nil
	}

	if !s.breaker.Allow() {
		return s.fallback.AllowN(ctx, key, 1, limit.Requests, limit.Window)
	}

	result, err := s.primary.AllowN(ctx, key, 1, limit.Requests, limit.Window)
	if err != nil {
		s.metrics.IncStoreError()
		_, change := s.breaker.RecordFailure()
		if change.Opened {
			s.metrics.SetFallbackActive(true)
			s.logger.WarnContext(ctx, "rate limit store unavailable, using in-process fallback", "error", err)
		}
		return s.fallback.AllowN(ctx, key, 1, limit.Requests, limit.Window)
	}

	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.metrics.SetFallbackActive(false)
		s.logger.InfoContext(ctx, "rate limit store recovered")
	}
	return result, nil
}
