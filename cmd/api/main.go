package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solar_leads_backend/internal/activity"
	"solar_leads_backend/internal/approval"
	"solar_leads_backend/internal/email"
	"solar_leads_backend/internal/eventrelay"
	"solar_leads_backend/internal/events"
	apphttp "solar_leads_backend/internal/http"
	"solar_leads_backend/internal/http/router"
	"solar_leads_backend/internal/leads"
	"solar_leads_backend/internal/matching"
	"solar_leads_backend/internal/notification"
	"solar_leads_backend/internal/notification/outbox"
	"solar_leads_backend/internal/offers"
	"solar_leads_backend/internal/payments"
	"solar_leads_backend/internal/pricing"
	"solar_leads_backend/internal/refunds"
	"solar_leads_backend/internal/repository"
	"solar_leads_backend/internal/sms"
	"solar_leads_backend/internal/storage"
	"solar_leads_backend/migrations"
	"solar_leads_backend/platform/config"
	"solar_leads_backend/platform/db"
	"solar_leads_backend/platform/logger"
	"solar_leads_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ensureBucket wraps the retry logic for verifying a MinIO bucket exists.
func ensureBucket(ctx context.Context, log *logger.Logger, storageSvc *storage.MinIOService, bucket string) {
	if err := withRetry(ctx, log, "ensure "+bucket+" bucket", 5, 2*time.Second, func() error {
		return storageSvc.EnsureBucketExists(ctx, bucket)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", bucket)
		panic("failed to ensure storage bucket exists: " + err.Error())
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

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

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, pool, migrations.FS, log)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	eventBus := events.NewInMemoryBus(log)
	repo := repository.New(pool)
	val := validator.New()
	recorder := activity.NewRecorder(repo, log)

	var gateway payments.Gateway = &payments.NoopGateway{}
	if cfg.GetStripeSecretKey() != "" {
		gateway = payments.NewStripeGateway(cfg, log)
	} else {
		log.Warn("STRIPE_SECRET_KEY not set; payments are recorded without a processor")
	}

	var evidence refunds.EvidenceStore
	if cfg.IsMinIOEnabled() {
		storageSvc, err := storage.NewMinIOService(cfg)
		if err != nil {
			log.Error("failed to initialize storage", "error", err)
			panic("failed to initialize storage: " + err.Error())
		}
		ensureBucket(ctx, log, storageSvc, cfg.GetMinioBucketRefundEvidence())
		evidence = refunds.NewMinIOEvidence(storageSvc, cfg.GetMinioBucketRefundEvidence())
	} else {
		log.Warn("MinIO not configured; refund evidence uploads disabled")
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

	// ========================================================================
	// Domain Layer
	// ========================================================================

	engine := pricing.NewEngine(cfg.GetPolicy())
	matchingSvc := matching.New(repo, eventBus, cfg, log)
	offerSvc := offers.New(repo, matchingSvc, gateway, eventBus, cfg, log)
	refundSvc := refunds.New(repo, gateway, eventBus, recorder, cfg, log)
	approvalSvc := approval.New(repo, approval.NewABRClient(cfg, log), eventBus, recorder, log)
	leadSvc := leads.New(repo, matchingSvc, engine, eventBus, cfg, log)

	// Notifications are only written to the outbox here; cmd/scheduler delivers them.
	notifier := notification.New(
		repo,
		outbox.New(pool),
		email.NewSender(cfg, cfg.GetAppBaseURL()),
		sms.NewSender(cfg),
		cfg,
		log,
	)
	notifier.RegisterHandlers(eventBus)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			leads.NewModule(leadSvc, val),
			offers.NewModule(offerSvc, val),
			pricing.NewModule(engine, val),
			refunds.NewModule(refundSvc, evidence, val),
			approval.NewModule(approvalSvc),
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}

	eventBus.Wait()
	log.Info("server stopped")
}

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
