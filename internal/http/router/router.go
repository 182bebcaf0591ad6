// Package router assembles the Gin engine from the App composition.
package router

import (
	"strconv"
	"time"

	apphttp "convopilot_backend/internal/http"
	"convopilot_backend/internal/http/middleware"
	"convopilot_backend/internal/http/response"
	"convopilot_backend/platform/apperr"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultAlertLimit = 50

// New builds the HTTP engine with all routes registered.
func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(app.Logger))
	engine.Use(cors.New(corsConfig(app)))

	engine.GET("/api/health", healthHandler(app))
	engine.GET("/metrics", gin.WrapH(app.Metrics.Handler()))

	v1 := engine.Group("/api/v1")

	wh := v1.Group("/webhook")
	wh.POST("/whatsapp", app.Webhook.HandleDelivery)
	wh.GET("/whatsapp", app.Webhook.HandleVerify)

	v1.GET("/events/stream", app.SSE.Handler(tenantFromQuery))
	v1.GET("/alerts", listAlerts(app))

	admin := v1.Group("/admin")
	admin.POST("/tenants/:id/config/refresh", refreshTenantConfig(app))
	admin.GET("/breakers", listBreakers(app))
	admin.POST("/breakers/:name/reset", resetBreaker(app))

	return engine
}

func corsConfig(app *apphttp.App) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "Cache-Control"},
		AllowCredentials: app.Config.GetCORSAllowCreds(),
		MaxAge:           12 * time.Hour,
	}
	if app.Config.GetCORSAllowAll() {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = app.Config.GetCORSOrigins()
	}
	return cfg
}

func healthHandler(app *apphttp.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := app.Health.Ping(c.Request.Context()); err != nil {
			response.HandleError(c, apperr.Unavailable("database unreachable"))
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	}
}

// tenantFromQuery identifies the SSE subscriber. Dashboard auth happens
// at the edge proxy; this service only scopes the stream.
func tenantFromQuery(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Query("tenant_id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func listAlerts(app *apphttp.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tenantID *uuid.UUID
		if raw := c.Query("tenant_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				response.HandleError(c, apperr.BadRequest("invalid tenant_id"))
				return
			}
			tenantID = &id
		}

		limit := defaultAlertLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				response.HandleError(c, apperr.BadRequest("invalid limit"))
				return
			}
			limit = n
		}

		items, err := app.Alerts.ListRecent(c.Request.Context(), tenantID, limit)
		if err != nil {
			app.Logger.Error("failed to list alerts", "error", err)
			response.HandleError(c, apperr.Wrap(apperr.KindInternal, "internal server error", err))
			return
		}
		response.OK(c, gin.H{"alerts": items})
	}
}

func refreshTenantConfig(app *apphttp.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.HandleError(c, apperr.BadRequest("invalid tenant id"))
			return
		}
		if err := app.TenantConfig.ClearCache(c.Request.Context(), id); err != nil {
			app.Logger.Error("failed to clear tenant config cache", "tenantId", id, "error", err)
			response.HandleError(c, apperr.Wrap(apperr.KindInternal, "internal server error", err))
			return
		}
		response.OK(c, gin.H{"status": "refreshed"})
	}
}

func listBreakers(app *apphttp.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		states := app.Breakers.States()
		labels := make(map[string]string, len(states))
		for name, state := range states {
			labels[name] = state.String()
		}
		response.OK(c, gin.H{"breakers": labels})
	}
}

func resetBreaker(app *apphttp.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if !app.Breakers.Reset(name) {
			response.HandleError(c, apperr.NotFound("unknown breaker"))
			return
		}
		app.Logger.Info("circuit breaker manually reset", "breaker", name)
		response.OK(c, gin.H{"status": "reset"})
	}
}
