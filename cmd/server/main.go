package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"eventlens/internal/app"
	"eventlens/internal/platform/config"
	"eventlens/internal/platform/httpserver"
	"eventlens/internal/platform/logger"
)

// main wires the service graph, exposes the HTTP router and runs the
// background workers until SIGINT or SIGTERM.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.Close()

	router, err := newRouter(a)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}
	srv := httpserver.New(cfg.Server.Addr, router, cfg.Server.ReadHeaderTimeout)

	log.Info("starting eventlens",
		"addr", cfg.Server.Addr,
		"env", cfg.Env,
		"store", cfg.Store.Driver,
		"ratelimit_backend", cfg.RateLimit.Backend,
		"lock_backend", cfg.Claim.LockBackend,
		"trusted_proxies", cfg.Server.TrustedProxies,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, log)
	})
	for name, fn := range a.Workers() {
		g.Go(func() error {
			log.Info("worker started", "worker", name)
			if err := fn(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("worker %s: %w", name, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown with error", "error", err)
		return err
	}
	log.Info("eventlens stopped")
	return nil
}
