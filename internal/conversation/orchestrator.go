package conversation

import (
	"context"
	"errors"
	"strings"

	"convopilot_backend/internal/alerts"
	"convopilot_backend/internal/breaker"
	"convopilot_backend/internal/compliance"
	"convopilot_backend/internal/conversation/domain"
	"convopilot_backend/internal/conversation/repository"
	"convopilot_backend/internal/events"
	"convopilot_backend/internal/metrics"
	"convopilot_backend/internal/provider/whatsapp"
	"convopilot_backend/internal/scheduler"
	"convopilot_backend/internal/tenant"
	"convopilot_backend/platform/logger"

	"github.com/google/uuid"
)

// ProviderSender is the slice of the WhatsApp client the orchestrator uses.
type ProviderSender interface {
	Defaults() whatsapp.Credentials
	SendText(ctx context.Context, creds whatsapp.Credentials, phoneNumber, body string) (whatsapp.SendResult, error)
	SendTemplate(ctx context.Context, creds whatsapp.Credentials, phoneNumber, templateName, language string) (whatsapp.SendResult, error)
}

// BurstScheduler arms the per-conversation debounce timer.
type BurstScheduler interface {
	ScheduleProcessing(tenantID uuid.UUID, phone string)
}

// Orchestrator is the entry point for everything that happens to a
// conversation: webhook events on the API side, and burst processing,
// recovery, and provider delivery on the worker side.
type Orchestrator struct {
	router          *Router
	coordinator     *Coordinator
	engine          *Engine
	repo            repository.ConversationRepository
	tenants         tenant.Reader
	buffer          BurstScheduler
	provider        ProviderSender
	providerBreaker *breaker.Breaker
	boundary        *alerts.Boundary
	bus             events.Bus
	metrics         *metrics.Metrics
	log             *logger.Logger
}

// NewOrchestrator wires the conversation entry point.
func NewOrchestrator(router *Router, coordinator *Coordinator, engine *Engine,
	repo repository.ConversationRepository, tenants tenant.Reader, buffer BurstScheduler,
	provider ProviderSender, providerBreaker *breaker.Breaker, boundary *alerts.Boundary,
	bus events.Bus, m *metrics.Metrics, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		router:          router,
		coordinator:     coordinator,
		engine:          engine,
		repo:            repo,
		tenants:         tenants,
		buffer:          buffer,
		provider:        provider,
		providerBreaker: providerBreaker,
		boundary:        boundary,
		bus:             bus,
		metrics:         m,
		log:             log,
	}
}

// HandleEvent dispatches one normalized provider event. Implements the
// webhook sink.
func (o *Orchestrator) HandleEvent(ctx context.Context, t tenant.Tenant, event domain.ProviderEvent) error {
	switch ev := event.(type) {
	case domain.InboundMessageEvent:
		return o.handleInbound(ctx, t, ev)
	case domain.OutboundEchoEvent:
		return o.handleOutboundEcho(ctx, t, ev)
	case domain.StatusUpdateEvent:
		o.router.HandleStatusUpdate(ctx, ev.ProviderID, ev.Status)
		return nil
	case domain.UnrecognizedEvent:
		o.log.Debug("unrecognized provider event ignored", "tenantId", t.ID, "kind", ev.Kind)
		return nil
	default:
		o.log.Warn("provider event with no handler", "tenantId", t.ID)
		return nil
	}
}

func (o *Orchestrator) handleInbound(ctx context.Context, t tenant.Tenant, ev domain.InboundMessageEvent) error {
	lead, err := o.router.FindOrInitializeLead(ctx, t.ID, ev.From)
	if err != nil {
		return err
	}
	if lead == nil {
		return nil
	}

	content := ev.Text
	if content == "" && ev.ButtonTitle != "" {
		content = ev.ButtonTitle
	}

	msg, err := o.router.PersistMessage(ctx, repository.InsertMessageParams{
		LeadID:            lead.ID,
		TenantID:          t.ID,
		Direction:         domain.DirectionInbound,
		Content:           content,
		ProviderMessageID: optional(ev.ProviderID),
		Type:              ev.Type,
		ButtonID:          optional(ev.ButtonID),
		Status:            domain.DeliveryDelivered,
	})
	if err != nil {
		return err
	}
	if msg == nil {
		// Provider redelivery of a message already recorded.
		return nil
	}

	// Any inbound resets the anti-spam counter and reopens the service
	// window.
	if err := o.repo.TouchInbound(ctx, lead.ID, t.ID, ev.Timestamp); err != nil {
		o.log.Error("inbound touch failed", "leadId", lead.ID, "error", err)
	}

	o.bus.Publish(ctx, events.MessageReceived{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  t.ID,
		LeadID:    lead.ID,
		MessageID: msg.ID,
		Content:   content,
	})

	o.buffer.ScheduleProcessing(t.ID, lead.Phone)
	return nil
}

func (o *Orchestrator) handleOutboundEcho(ctx context.Context, t tenant.Tenant, ev domain.OutboundEchoEvent) error {
	lead, err := o.router.FindOrInitializeLead(ctx, t.ID, ev.To)
	if err != nil {
		return err
	}
	if lead == nil {
		return nil
	}

	// Recording the echo is best-effort idempotent: our own queued sends
	// already have a row carrying this provider id.
	if _, err := o.router.PersistMessage(ctx, repository.InsertMessageParams{
		LeadID:            lead.ID,
		TenantID:          t.ID,
		Direction:         domain.DirectionOutbound,
		Content:           ev.Text,
		ProviderMessageID: optional(ev.ProviderID),
		Type:              domain.TypeText,
		Status:            domain.DeliverySent,
	}); err != nil {
		return err
	}

	return o.router.HandleOutboundTakeover(ctx, lead, ev.ProviderID, ev.Text)
}

// ProcessBurst consumes everything the lead wrote during the quiet period
// as one logical turn. Runs as the buffer's fire callback; panics and
// errors stop at the boundary.
func (o *Orchestrator) ProcessBurst(ctx context.Context, tenantID uuid.UUID, phone string) {
	o.boundary.Protect(ctx, "burst", &tenantID, func(ctx context.Context) error {
		return o.processBurst(ctx, tenantID, phone)
	})
}

func (o *Orchestrator) processBurst(ctx context.Context, tenantID uuid.UUID, phone string) error {
	// Re-read the lead: handover or state changes since the messages
	// arrived must win.
	lead, err := o.repo.GetLeadByPhone(ctx, tenantID, phone)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	pending, err := o.repo.ListUnprocessedInbound(ctx, lead.ID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(pending))
	parts := make([]string, 0, len(pending))
	var buttonID *string
	for _, m := range pending {
		ids = append(ids, m.ID)
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
		if m.ButtonID != nil {
			buttonID = m.ButtonID
		}
	}
	content := strings.Join(parts, "\n")

	// Mark consumed before answering so a crash mid-reply never makes the
	// next pass answer the same burst twice.
	if err := o.repo.MarkProcessed(ctx, ids); err != nil {
		return err
	}

	if o.metrics != nil {
		o.metrics.BurstsTotal.Inc()
	}

	return o.coordinator.HandleInboundAI(ctx, &lead, content, func(ctx context.Context) error {
		return o.engine.HandlePhase(ctx, &lead, content, buttonID)
	})
}

// HandleRecovery is the delayed recovery job: re-enable the AI if the lead
// is still handed over and no human has replied since. Implements the
// scheduler's recovery handler; safe under job redelivery.
func (o *Orchestrator) HandleRecovery(ctx context.Context, leadID, tenantID uuid.UUID) error {
	swapped, err := o.repo.RecoverHandover(ctx, leadID, tenantID)
	if err != nil {
		return err
	}
	if !swapped {
		o.log.Info("recovery skipped: lead not recoverable", "leadId", leadID)
		return nil
	}

	o.bus.Publish(ctx, events.HandoverRecovered{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  tenantID,
		LeadID:    leadID,
	})
	return nil
}

// DeliverQueuedMessage performs the provider call for one queued send.
// Implements the scheduler's outbound sender; idempotent under job
// redelivery because an already-acknowledged row is skipped.
func (o *Orchestrator) DeliverQueuedMessage(ctx context.Context, d scheduler.OutboundDelivery) error {
	msg, err := o.repo.GetMessageByID(ctx, d.MessageID, d.TenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			o.log.Warn("queued send references no message", "messageId", d.MessageID)
			return nil
		}
		return err
	}
	if msg.ProviderMessageID != nil || msg.Status != domain.DeliveryPending {
		return nil
	}

	lead, err := o.repo.GetLeadByID(ctx, msg.LeadID, d.TenantID)
	if err != nil {
		return err
	}

	creds, err := o.resolveCredentials(ctx, d.TenantID)
	if err != nil {
		return err
	}

	result, err := breaker.Execute(ctx, o.providerBreaker, func(ctx context.Context) (whatsapp.SendResult, error) {
		if d.Route == string(compliance.RouteTemplate) {
			return o.provider.SendTemplate(ctx, creds, lead.Phone, d.TemplateName, d.Language)
		}
		return o.provider.SendText(ctx, creds, lead.Phone, msg.Content)
	})
	if err != nil {
		if o.metrics != nil {
			o.metrics.OutboundSends.WithLabelValues("error").Inc()
		}
		return err
	}

	if err := o.repo.SetProviderMessageID(ctx, msg.ID, result.ProviderMessageID, domain.DeliverySent); err != nil {
		o.log.Error("provider id attach failed", "messageId", msg.ID, "error", err)
	}
	if o.metrics != nil {
		o.metrics.OutboundSends.WithLabelValues("sent").Inc()
	}
	return nil
}

// MarkDeliveryFailed flags a send whose retries are exhausted.
func (o *Orchestrator) MarkDeliveryFailed(ctx context.Context, messageID, tenantID uuid.UUID) error {
	if err := o.repo.MarkSendFailed(ctx, messageID); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.OutboundSends.WithLabelValues("failed").Inc()
	}
	o.boundary.Capture(ctx, alerts.SeverityWarn, "outbound",
		"outbound message exhausted retries", &tenantID, nil)
	return nil
}

// resolveCredentials builds the campaign -> tenant -> environment override
// chain. The environment defaults are merged in by the provider client
// itself.
func (o *Orchestrator) resolveCredentials(ctx context.Context, tenantID uuid.UUID) (whatsapp.Credentials, error) {
	t, err := o.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return whatsapp.Credentials{}, err
	}

	creds := whatsapp.Credentials{
		Token:   deref(t.ProviderToken),
		PhoneID: deref(t.ProviderPhoneID),
	}

	campaign, err := o.repo.GetActiveCampaign(ctx, tenantID)
	if err == nil {
		creds = creds.Merge(whatsapp.Credentials{
			Token:   deref(campaign.ProviderToken),
			PhoneID: deref(campaign.ProviderPhoneID),
		})
	} else if !errors.Is(err, repository.ErrNotFound) {
		return whatsapp.Credentials{}, err
	}
	return creds, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
