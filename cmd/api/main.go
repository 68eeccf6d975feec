package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crmguard_backend/internal/auth"
	"crmguard_backend/internal/bitrix"
	apphttp "crmguard_backend/internal/http"
	"crmguard_backend/internal/purchases"
	"crmguard_backend/internal/reconcile"
	"crmguard_backend/internal/scheduler"
	"crmguard_backend/platform/config"
	"crmguard_backend/platform/db"
	"crmguard_backend/platform/logger"
	"crmguard_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	val := validator.New()
	crm := bitrix.NewClient(cfg, log)

	sweeps, closeSweeps := initSweepScheduler(cfg, log)
	if closeSweeps != nil {
		defer closeSweeps()
	}

	reconcileModule := reconcile.NewModule(crm, reconcile.NewRepository(pool), sweeps, cfg.GetCRMPortalURL(), val, log)
	authModule := auth.NewModule(cfg, val, log)

	modules := []apphttp.Module{
		reconcileModule,
		authModule,
	}
	if cfg.IsPurchasesEnabled() {
		modules = append(modules, purchases.NewModule(pool, crm, cfg, val, log))
		log.Info("purchases module enabled", "entityTypeId", cfg.GetSmartProcessPurchasesID())
	}

	engine := apphttp.NewRouter(cfg, cfg.Env, db.NewPoolAdapter(pool), log, modules...)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initSweepScheduler wires the deferred orphan sweep queue. Without redis
// the API still runs; sweeps then only happen on operator request.
func initSweepScheduler(cfg config.SchedulerConfig, log *logger.Logger) (reconcile.SweepScheduler, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; deferred orphan sweeps disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize sweep scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
