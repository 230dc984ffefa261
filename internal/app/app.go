// Package app builds the service graph from configuration. cmd/server and
// cmd/eventlensctl share it so both run against the same stores and clients.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	adminservice "eventlens/internal/admin/service"
	"eventlens/internal/attestation/extractor"
	attestationmetrics "eventlens/internal/attestation/metrics"
	"eventlens/internal/attestation/scoring"
	attestationservice "eventlens/internal/attestation/service"
	claimmetrics "eventlens/internal/claim/metrics"
	claimservice "eventlens/internal/claim/service"
	eventservice "eventlens/internal/event/service"
	eventstore "eventlens/internal/event/store"
	eventmemory "eventlens/internal/event/store/memory"
	eventpostgres "eventlens/internal/event/store/postgres"
	jwttoken "eventlens/internal/jwt_token"
	"eventlens/internal/ledger"
	"eventlens/internal/platform/config"
	"eventlens/internal/platform/kafka"
	"eventlens/internal/platform/postgres"
	platformredis "eventlens/internal/platform/redis"
	ratelimitmetrics "eventlens/internal/ratelimit/metrics"
	ratelimitmodels "eventlens/internal/ratelimit/models"
	ratelimitservice "eventlens/internal/ratelimit/service"
	"eventlens/internal/ratelimit/store/bucket"
	"eventlens/internal/verifytoken"
	"eventlens/internal/vision"
	"eventlens/pkg/platform/audit"
	"eventlens/pkg/platform/audit/outbox"
	"eventlens/pkg/platform/audit/publishers/compliance"
	"eventlens/pkg/platform/audit/publishers/ops"
	"eventlens/pkg/platform/audit/publishers/security"
	auditmemory "eventlens/pkg/platform/audit/store/memory"
	auditpostgres "eventlens/pkg/platform/audit/store/postgres"
	"eventlens/pkg/platform/audit/worker"
	"eventlens/pkg/platform/circuit"
	"eventlens/pkg/platform/keylock"
)

const adminLoginPerMinute = 10

type App struct {
	Config *config.Config
	Logger *slog.Logger

	DB    *sql.DB
	Redis *platformredis.Client

	Events     eventstore.Store
	AuditStore audit.Store
	Compliance *compliance.Publisher
	Security   *security.Publisher
	Ops        *ops.Publisher

	Ledger   *ledger.Client
	Vision   *vision.Client
	Tokens   *verifytoken.Service
	Sessions *jwttoken.JWTService
	Locker   keylock.Locker

	EventService *eventservice.Service
	Attestation  *attestationservice.Service
	Claims       *claimservice.Service
	Reconciler   *claimservice.Reconciler
	Admin        *adminservice.Service
	RateLimiter  *ratelimitservice.Service

	rateLimitFallback *bucket.InMemoryBucketStore
	relay             *outbox.Relay
	closers           []func()
}

// Build opens the configured backends and wires every service. Close
// releases what Build opened.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}
	if err := a.openRedis(); err != nil {
		return nil, err
	}

	a.Compliance = compliance.New(a.AuditStore,
		compliance.WithLogger(logger),
		compliance.WithMetrics(compliance.NewMetrics()),
	)
	a.Security = security.New(a.AuditStore, security.WithLogger(logger))
	a.Ops = ops.New(1024)

	a.Ledger = ledger.New(cfg.Ledger, ledger.WithLogger(logger), ledger.WithMetrics(ledger.NewMetrics()))
	a.Vision = vision.New(cfg.Vision, vision.WithLogger(logger), vision.WithMetrics(vision.NewMetrics()))
	a.Tokens = verifytoken.New(cfg.Token)
	a.Sessions = jwttoken.NewJWTService(cfg.Admin.SessionSecret, cfg.Token.Issuer, "eventlens-admin", cfg.Admin.SessionTTL)

	switch cfg.Claim.LockBackend {
	case "redis":
		a.Locker = keylock.NewRedis(a.Redis.Client, keylock.WithTTL(cfg.Claim.LockTTL), keylock.WithLogger(logger))
	default:
		a.Locker = keylock.NewMemory()
	}

	a.EventService = eventservice.New(a.Events, a.Ledger,
		eventservice.WithLogger(logger),
		eventservice.WithAuditPublisher(a.Compliance),
	)

	a.Attestation, err = attestationservice.New(a.Events, a.Vision, a.Tokens,
		attestationservice.WithLogger(logger),
		attestationservice.WithMetrics(attestationmetrics.New()),
		attestationservice.WithAuditPublisher(a.Ops),
		attestationservice.WithPolicy(scoring.PolicyFromConfig(cfg.Policy)),
		attestationservice.WithExtractor(extractor.New(cfg.Server.MaxImageBytes)),
	)
	if err != nil {
		return nil, fmt.Errorf("attestation service: %w", err)
	}

	a.Claims, err = claimservice.New(a.Events, a.Ledger, a.Tokens, a.Locker,
		claimservice.WithLogger(logger),
		claimservice.WithMetrics(claimmetrics.New()),
		claimservice.WithAuditPublisher(a.Compliance),
		claimservice.WithSecurityPublisher(a.Security),
		claimservice.WithConfig(cfg.Claim),
		claimservice.WithProofRecording(cfg.Ledger.RecordProof),
	)
	if err != nil {
		return nil, fmt.Errorf("claim service: %w", err)
	}
	a.Reconciler = claimservice.NewReconciler(a.Claims, cfg.Reconciler)

	a.Admin, err = adminservice.New(cfg.Admin, a.Sessions, a.Events,
		adminservice.WithLogger(logger),
		adminservice.WithWallets(cfg.AdminWallets()),
		adminservice.WithSecurityPublisher(a.Security),
	)
	if err != nil {
		return nil, fmt.Errorf("admin service: %w", err)
	}

	if err := a.buildRateLimiter(); err != nil {
		return nil, err
	}
	if err := a.buildRelay(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config
	if cfg.Store.Driver != "postgres" {
		a.Events = eventmemory.NewInMemory()
		a.AuditStore = auditmemory.NewInMemoryStore()
		return nil
	}

	db, err := postgres.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	a.DB = db
	a.closers = append(a.closers, func() { _ = db.Close() })

	if cfg.Store.Migrate {
		if err := postgres.Migrate(db); err != nil {
			return err
		}
	}
	a.Events = eventpostgres.NewPostgres(db)
	a.AuditStore = auditpostgres.New(db)
	return nil
}

func (a *App) openRedis() error {
	cfg := a.Config
	if cfg.RateLimit.Backend != "redis" && cfg.Claim.LockBackend != "redis" {
		return nil
	}
	client, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	a.Redis = client
	a.closers = append(a.closers, func() { _ = client.Close() })
	return nil
}

func (a *App) buildRateLimiter() error {
	cfg := a.Config
	opts := []ratelimitservice.Option{
		ratelimitservice.WithLogger(a.Logger),
		ratelimitservice.WithMetrics(ratelimitmetrics.New()),
		ratelimitservice.WithSecurityPublisher(a.Security),
		ratelimitservice.WithConfig(cfg.RateLimit),
		ratelimitservice.WithLimit(ratelimitmodels.ClassAdminLogin, ratelimitservice.Limit{
			Requests: adminLoginPerMinute,
			Window:   time.Minute,
		}),
	}

	a.rateLimitFallback = bucket.New()
	var primary ratelimitservice.BucketStore = a.rateLimitFallback
	if cfg.RateLimit.Backend == "redis" {
		primary = bucket.NewRedis(a.Redis.Client)
		opts = append(opts, ratelimitservice.WithFallback(a.rateLimitFallback, circuit.New("ratelimit",
			circuit.WithFailureThreshold(3),
			circuit.WithOpenTimeout(15*time.Second),
		)))
	}

	svc, err := ratelimitservice.New(primary, opts...)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	a.RateLimiter = svc
	return nil
}

// buildRelay wires the outbox relay when audit rows land in Postgres and
// brokers are configured.
func (a *App) buildRelay(ctx context.Context) error {
	cfg := a.Config
	brokers := cfg.KafkaBrokers()
	if a.DB == nil || len(brokers) == 0 {
		return nil
	}

	producer, err := kafka.NewProducer(kafka.Config{
		Brokers:    brokers,
		Topic:      cfg.Kafka.Topic,
		Partitions: cfg.Kafka.Partitions,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, producer.Close)

	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := producer.EnsureTopic(ensureCtx, cfg.Kafka.Topic, cfg.Kafka.Partitions, 1); err != nil {
		a.Logger.WarnContext(ctx, "audit topic not ensured, relay will retry on publish", "error", err)
	}

	pool, err := pgxpool.New(ctx, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open outbox pool: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	a.relay = outbox.NewRelay(pool, producer, cfg.Kafka.Topic,
		outbox.WithBatchSize(cfg.Kafka.RelayBatch),
		outbox.WithInterval(cfg.Kafka.RelayInterval),
		outbox.WithLogger(a.Logger),
	)
	return nil
}

// Workers returns the background loops to run next to the HTTP server. Each
// returns when ctx is cancelled.
func (a *App) Workers() map[string]func(ctx context.Context) error {
	w := map[string]func(ctx context.Context) error{
		"security_audit": a.Security.Run,
		"ops_audit":      worker.NewWorker(a.AuditStore, a.Ops.Inbox(), a.Logger).Run,
		"ratelimit_janitor": func(ctx context.Context) error {
			a.rateLimitFallback.RunJanitor(ctx, time.Minute)
			return ctx.Err()
		},
	}
	if a.Config.Reconciler.Enabled {
		w["reconciler"] = a.Reconciler.Run
	}
	if a.relay != nil {
		w["outbox_relay"] = a.relay.Run
	}
	return w
}

// Health pings the backends the request path depends on.
func (a *App) Health(ctx context.Context) map[string]error {
	checks := map[string]error{}
	if a.DB != nil {
		checks["postgres"] = a.DB.PingContext(ctx)
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Health(ctx)
	}
	checks["ledger"] = a.Ledger.Ping(ctx)
	return checks
}

// Close waits for in-flight claim runs, then releases backends in reverse
// order of opening.
func (a *App) Close() {
	if a.Claims != nil {
		a.Claims.Wait()
	}
	if a.Security != nil {
		a.Security.Flush(context.Background())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
