package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"solar_leads_backend/internal/activity"
	"solar_leads_backend/internal/email"
	"solar_leads_backend/internal/eventrelay"
	"solar_leads_backend/internal/events"
	apphttp "solar_leads_backend/internal/http"
	"solar_leads_backend/internal/http/router"
	"solar_leads_backend/internal/matching"
	"solar_leads_backend/internal/notification"
	"solar_leads_backend/internal/notification/outbox"
	"solar_leads_backend/internal/offers"
	"solar_leads_backend/internal/payments"
	"solar_leads_backend/internal/refunds"
	"solar_leads_backend/internal/repository"
	"solar_leads_backend/internal/revenue"
	"solar_leads_backend/internal/scheduler"
	"solar_leads_backend/internal/sms"
	"solar_leads_backend/internal/sourcing"
	"solar_leads_backend/platform/config"
	"solar_leads_backend/platform/db"
	"solar_leads_backend/platform/lock"
	"solar_leads_backend/platform/logger"
	"solar_leads_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "schedule", cfg.GetReconcileSchedule())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)
	repo := repository.New(pool)
	recorder := activity.NewRecorder(repo, log)

	var gateway payments.Gateway = &payments.NoopGateway{}
	if cfg.GetStripeSecretKey() != "" {
		gateway = payments.NewStripeGateway(cfg, log)
	} else {
		log.Warn("STRIPE_SECRET_KEY not set; payments are recorded without a processor")
	}

	relay, err := eventrelay.Dial(cfg, log)
	if err != nil {
		log.Error("failed to connect event relay", "error", err)
		panic("failed to connect event relay: " + err.Error())
	}
	if relay != nil {
		defer func() { _ = relay.Close() }()
		relay.RegisterHandlers(eventBus)
	}

	outboxStore := outbox.New(pool)
	notifier := notification.New(
		repo,
		outboxStore,
		email.NewSender(cfg, cfg.GetAppBaseURL()),
		sms.NewSender(cfg),
		cfg,
		log,
	)
	notifier.RegisterHandlers(eventBus)

	// ========================================================================
	// Cycle steps
	// ========================================================================

	matchingSvc := matching.New(repo, eventBus, cfg, log)
	offerSvc := offers.New(repo, matchingSvc, gateway, eventBus, cfg, log)
	refundSvc := refunds.New(repo, gateway, eventBus, recorder, cfg, log)
	revenueSvc := revenue.New(repo, refundSvc, eventBus, cfg, log)

	steps := scheduler.Steps{
		Matcher: matchingSvc,
		Offers:  offerSvc,
		Revenue: revenueSvc,
	}

	if cfg.IsSourcingEnabled() {
		gen, err := sourcing.NewGeminiGenerator(ctx, cfg.GetGeminiAPIKey(), cfg.GetGeminiModel())
		if err != nil {
			log.Error("failed to initialize lead sourcing; top-up disabled", "error", err)
		} else {
			steps.Sourcing = sourcing.New(repo, gen, recorder, validator.New(), cfg, log)
		}
	} else {
		log.Info("GEMINI_API_KEY not set; AI lead top-up disabled")
	}

	var wg sync.WaitGroup
	var enqueuer scheduler.Enqueuer
	var locker *lock.Locker

	if cfg.GetRedisURL() != "" {
		redisClient, err := lock.NewRedisClient(ctx, cfg)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			panic("failed to connect to redis: " + err.Error())
		}
		defer func() { _ = redisClient.Close() }()
		locker = lock.NewLocker(redisClient, "lead-engine:")

		client, err := scheduler.NewClient(cfg)
		if err != nil {
			log.Error("failed to initialize task queue client", "error", err)
			panic("failed to initialize task queue client: " + err.Error())
		}
		defer func() { _ = client.Close() }()
		enqueuer = client

		worker, err := scheduler.NewWorker(cfg, eventBus, log)
		if err != nil {
			log.Error("failed to initialize task worker", "error", err)
			panic("failed to initialize task worker: " + err.Error())
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	} else {
		log.Warn("REDIS_URL not set; notifications are delivered inline and cycles are not leased")
	}

	dispatcher := scheduler.NewNotificationOutboxDispatcher(outboxStore, enqueuer, eventBus, log)
	steps.Outbox = dispatcher

	// Retries come due between cycles; poll for them on a short interval.
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx, cfg.GetOutboxPollInterval())
	}()

	reconciler := scheduler.NewReconciler(steps, recorder, eventBus, cfg.GetReconcileSchedule(), log)
	if locker != nil {
		reconciler.SetLocker(locker, cfg.GetReconcileLockTTL())
	}
	if err := reconciler.Start(ctx); err != nil {
		log.Error("failed to start reconciler", "error", err)
		panic("failed to start reconciler: " + err.Error())
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   schedulerHTTPConfig{Config: cfg},
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules:  []apphttp.Module{scheduler.NewModule(reconciler)},
	}
	srv := &http.Server{
		Addr:              cfg.GetSchedulerHTTPAddr(),
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("scheduler status server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("scheduler status server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, stopping scheduler")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("scheduler status server shutdown failed", "error", err)
	}
	reconciler.Stop()
	wg.Wait()
	eventBus.Wait()
	log.Info("scheduler stopped")
}

// schedulerHTTPConfig serves the status API on the scheduler's own address.
type schedulerHTTPConfig struct {
	*config.Config
}

func (c schedulerHTTPConfig) GetHTTPAddr() string { return c.GetSchedulerHTTPAddr() }

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
