// Package webhook is the inbound edge of the platform: it authenticates
// provider deliveries, normalizes them into typed events, and hands them
// to the conversation core.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"convopilot_backend/internal/conversation/domain"
	"convopilot_backend/internal/http/response"
	"convopilot_backend/internal/metrics"
	"convopilot_backend/internal/tenant"
	"convopilot_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

const (
	headerSignature = "X-Hub-Signature-256"
	headerTimestamp = "X-Hub-Timestamp"
)

// Sink consumes normalized provider events. Implemented by the
// conversation orchestrator.
type Sink interface {
	HandleEvent(ctx context.Context, t tenant.Tenant, event domain.ProviderEvent) error
}

// Config carries the webhook rate-limit tunables.
type Config interface {
	GetWebhookRateLimit() float64
	GetWebhookRateBurst() int
}

// Handler terminates provider webhook deliveries.
type Handler struct {
	tenants tenant.Reader
	sink    Sink
	limiter *tenantLimiter
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// NewHandler creates the webhook handler.
func NewHandler(cfg Config, tenants tenant.Reader, sink Sink, m *metrics.Metrics, log *logger.Logger) *Handler {
	return &Handler{
		tenants: tenants,
		sink:    sink,
		limiter: newTenantLimiter(cfg.GetWebhookRateLimit(), cfg.GetWebhookRateBurst()),
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// HandleDelivery processes one provider webhook delivery.
// POST /api/v1/webhook/whatsapp
//
// The signature covers timestamp + "." + raw body with the tenant's
// secret, so the body must be read before binding. Events are processed
// synchronously up to persistence; the slow work (AI, sends) happens
// behind the debounce buffer, keeping this handler fast enough for the
// provider's delivery timeout.
func (h *Handler) HandleDelivery(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "unreadable body", nil)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid payload", nil)
		return
	}

	phoneNumberID := payload.PhoneNumberID()
	if phoneNumberID == "" {
		response.Error(c, http.StatusBadRequest, "missing phone number id", nil)
		return
	}

	t, err := h.tenants.GetByExternalPhoneID(c.Request.Context(), phoneNumberID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			// Unknown number: acknowledge so the provider stops retrying,
			// but record nothing.
			h.log.Warn("webhook for unknown phone number id", "phoneNumberId", phoneNumberID)
			c.Status(http.StatusOK)
			return
		}
		response.HandleError(c, err)
		return
	}

	timestamp := c.GetHeader(headerTimestamp)
	signature := c.GetHeader(headerSignature)
	if !TimestampFresh(timestamp, h.now()) || !VerifySignature(t.WebhookSecret, timestamp, body, signature) {
		h.log.Warn("webhook signature rejected", "tenantId", t.ID)
		response.Error(c, http.StatusUnauthorized, "invalid signature", nil)
		return
	}

	if !h.limiter.allow(t.ID) {
		h.log.RateLimitExceeded(c.ClientIP(), c.FullPath())
		response.Error(c, http.StatusTooManyRequests, "rate limit exceeded", nil)
		return
	}

	for _, event := range payload.Normalize() {
		h.countEvent(event)
		if err := h.sink.HandleEvent(c.Request.Context(), t, event); err != nil {
			// The delivery is acknowledged regardless: provider retries
			// would redeliver every event in the batch, and persistence is
			// idempotent on provider message id anyway.
			h.log.Error("webhook event processing failed", "tenantId", t.ID, "error", err)
		}
	}

	c.Status(http.StatusOK)
}

// HandleVerify answers the provider's one-time subscription handshake.
// GET /api/v1/webhook/whatsapp
func (h *Handler) HandleVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	challenge := c.Query("hub.challenge")
	token := c.Query("hub.verify_token")

	if mode != "subscribe" || token == "" {
		c.Status(http.StatusForbidden)
		return
	}

	// The verify token doubles as the tenant's phone number id so the
	// handshake confirms the number is actually registered.
	if _, err := h.tenants.GetByExternalPhoneID(c.Request.Context(), token); err != nil {
		c.Status(http.StatusForbidden)
		return
	}

	c.String(http.StatusOK, challenge)
}

func (h *Handler) countEvent(event domain.ProviderEvent) {
	if h.metrics == nil {
		return
	}
	switch event.(type) {
	case domain.InboundMessageEvent:
		h.metrics.WebhookEvents.WithLabelValues("inbound_message").Inc()
	case domain.OutboundEchoEvent:
		h.metrics.WebhookEvents.WithLabelValues("outbound_echo").Inc()
	case domain.StatusUpdateEvent:
		h.metrics.WebhookEvents.WithLabelValues("status_update").Inc()
	default:
		h.metrics.WebhookEvents.WithLabelValues("unrecognized").Inc()
	}
}
