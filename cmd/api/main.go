package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"convopilot_backend/internal/ai"
	"convopilot_backend/internal/alerts"
	"convopilot_backend/internal/conversation"
	"convopilot_backend/internal/events"
	apphttp "convopilot_backend/internal/http"
	"convopilot_backend/internal/http/router"
	"convopilot_backend/internal/metrics"
	"convopilot_backend/internal/notification"
	"convopilot_backend/internal/provider/whatsapp"
	"convopilot_backend/internal/scheduler"
	"convopilot_backend/internal/tenant"
	"convopilot_backend/internal/webhook"
	"convopilot_backend/platform/config"
	"convopilot_backend/platform/db"
	"convopilot_backend/platform/logger"
	"convopilot_backend/platform/shutdown"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	coordinator := shutdown.New(15*time.Second, log)
	ctx, stop := coordinator.Notify(context.Background())
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

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
	coordinator.Register("database pool", func(ctx context.Context) error {
		pool.Close()
		return nil
	})
	log.Info("database connection established")

	rdb, err := newRedisClient(cfg)
	if err != nil {
		log.Error("failed to configure redis client", "error", err)
		panic("failed to configure redis client: " + err.Error())
	}
	coordinator.Register("redis client", func(ctx context.Context) error {
		return rdb.Close()
	})

	eventBus := events.NewInMemoryBus(log)
	m := metrics.New("convopilot")

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	seeds, err := tenant.LoadKeywordSeeds(cfg.KeywordSeedPath)
	if err != nil {
		log.Warn("keyword seeds unavailable, continuing without", "path", cfg.KeywordSeedPath, "error", err)
	}
	tenantRepo := tenant.New(pool)
	tenantCache := tenant.NewCache(tenantRepo, rdb, cfg.ConfigCacheTTL, seeds, log)

	alertRepo := alerts.NewRepository(pool)
	mailer := alerts.NewMailer(cfg, log)
	boundary := alerts.NewBoundary(alertRepo, mailer, m, log)
	breakerNotifier := alerts.NewBreakerNotifier(boundary, eventBus)

	aiClient, err := ai.NewClient(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize AI client", "error", err)
		panic("failed to initialize AI client: " + err.Error())
	}

	providerClient := whatsapp.NewClient(cfg, log)

	schedClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	coordinator.Register("scheduler client", func(ctx context.Context) error {
		return schedClient.Close()
	})

	convModule := conversation.NewModule(conversation.Deps{
		Pool:            pool,
		Tenants:         tenantRepo,
		Config:          tenantCache,
		AI:              aiClient,
		Provider:        providerClient,
		Scheduler:       schedClient,
		Boundary:        boundary,
		BreakerNotifier: breakerNotifier,
		Bus:             eventBus,
		Metrics:         m,
		Core:            cfg,
		Log:             log,
	})
	coordinator.Register("debounce buffer", func(ctx context.Context) error {
		convModule.Buffer().Close()
		return nil
	})

	notifModule := notification.NewModule(eventBus, log)
	coordinator.Register("sse service", func(ctx context.Context) error {
		notifModule.Close()
		return nil
	})

	webhookHandler := webhook.NewHandler(cfg, tenantRepo, convModule.Orchestrator(), m, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:       cfg,
		Logger:       log,
		Health:       db.NewPoolAdapter(pool),
		Metrics:      m,
		Webhook:      webhookHandler,
		SSE:          notifModule.SSE,
		Alerts:       alertRepo,
		TenantConfig: tenantCache,
		Breakers:     convModule.Breakers(),
	}
	engine := router.New(app)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	coordinator.Register("http server", srv.Shutdown)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		coordinator.Run()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			coordinator.RunAndExit(1)
		}
	}
}

func newRedisClient(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	if cfg.RedisTLSInsecure && opts.TLSConfig != nil {
		opts.TLSConfig.InsecureSkipVerify = true
	}
	return redis.NewClient(opts), nil
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
