// Package http provides the HTTP server infrastructure: the App
// composition struct populated by main.go and consumed by the router.
package http

import (
	"context"

	"convopilot_backend/internal/alerts"
	"convopilot_backend/internal/breaker"
	"convopilot_backend/internal/metrics"
	"convopilot_backend/internal/notification/sse"
	"convopilot_backend/internal/webhook"
	"convopilot_backend/platform/config"
	"convopilot_backend/platform/logger"

	"github.com/google/uuid"
)

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// AlertLister reads recent operator alerts for the dashboard.
type AlertLister interface {
	ListRecent(ctx context.Context, tenantID *uuid.UUID, limit int) ([]alerts.Alert, error)
}

// ConfigInvalidator drops a tenant's cached settings and keywords so the
// next webhook delivery sees fresh values.
type ConfigInvalidator interface {
	ClearCache(ctx context.Context, tenantID uuid.UUID) error
}

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	// Config holds the HTTP server settings (address, CORS).
	Config config.HTTPConfig
	// Logger is the structured logger.
	Logger *logger.Logger
	// Health is used for readiness/health checks (e.g., DB ping).
	Health HealthChecker
	// Metrics serves the Prometheus registry for this process.
	Metrics *metrics.Metrics
	// Webhook terminates provider deliveries and verification probes.
	Webhook *webhook.Handler
	// SSE streams conversation activity to tenant dashboards.
	SSE *sse.Service
	// Alerts backs the operator alert listing endpoint.
	Alerts AlertLister
	// TenantConfig invalidates cached tenant configuration.
	TenantConfig ConfigInvalidator
	// Breakers backs the operational breaker state and reset endpoints.
	Breakers *breaker.Registry
}
