package main

import (
	"context"
	"errors"
	"time"

	"convopilot_backend/internal/ai"
	"convopilot_backend/internal/alerts"
	"convopilot_backend/internal/conversation"
	"convopilot_backend/internal/events"
	"convopilot_backend/internal/metrics"
	"convopilot_backend/internal/provider/whatsapp"
	"convopilot_backend/internal/scheduler"
	"convopilot_backend/internal/tenant"
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
	log.Info("starting worker", "env", cfg.Env)

	coordinator := shutdown.New(15*time.Second, log)
	ctx, stop := coordinator.Notify(context.Background())
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
	coordinator.Register("database pool", func(ctx context.Context) error {
		pool.Close()
		return nil
	})

	rdb, err := newRedisClient(cfg)
	if err != nil {
		log.Error("failed to configure redis client", "error", err)
		panic("failed to configure redis client: " + err.Error())
	}
	coordinator.Register("redis client", func(ctx context.Context) error {
		return rdb.Close()
	})

	eventBus := events.NewInMemoryBus(log)
	m := metrics.New("convopilot_worker")

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

	// Recovery handlers and outbound delivery share the conversation core
	// with the API process; only the entry points differ.
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

	orchestrator := convModule.Orchestrator()
	worker, err := scheduler.NewWorker(cfg, orchestrator, orchestrator, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
	coordinator.Run()
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
