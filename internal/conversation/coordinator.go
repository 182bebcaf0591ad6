package conversation

import (
	"context"
	"fmt"
	"time"

	"convopilot_backend/internal/ai"
	"convopilot_backend/internal/alerts"
	"convopilot_backend/internal/breaker"
	"convopilot_backend/internal/compliance"
	"convopilot_backend/internal/conversation/domain"
	"convopilot_backend/internal/conversation/repository"
	"convopilot_backend/internal/events"
	"convopilot_backend/internal/metrics"
	"convopilot_backend/internal/scheduler"
	"convopilot_backend/internal/tenant"
	"convopilot_backend/platform/logger"
)

// AIProvider is the slice of the AI client the coordinator consumes.
type AIProvider interface {
	ClassifyIntent(ctx context.Context, messages []string) (ai.Intent, error)
	GenerateReply(ctx context.Context, req ai.ReplyRequest) (string, error)
}

// SendParams describes one outbound send request.
type SendParams struct {
	Content     string
	Stage       string
	AIGenerated bool
	// Scripted marks a tenant-initiated send (opt-out template, demo
	// wrap-up): gated by the anti-spam cap and counted against it. AI
	// replies and bridging messages are direct responses and are not.
	Scripted bool
	// Template names the pre-approved template to use when the send is
	// routed outside the 24-hour service window.
	Template string
}

const defaultHistoryLimit = 12

// Coordinator decides AI versus human ownership of a conversation, invokes
// the model behind a circuit breaker, and queues outbound sends.
type Coordinator struct {
	repo      repository.ConversationRepository
	config    ConfigProvider
	tenants   tenant.Reader
	gateway   *compliance.Gateway
	ai        AIProvider
	aiBreaker *breaker.Breaker
	enqueuer  scheduler.OutboundEnqueuer
	recovery  scheduler.RecoveryScheduler
	boundary  *alerts.Boundary
	bus       events.Bus
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time
	sleep     func(time.Duration)
}

// NewCoordinator creates the agent coordinator.
func NewCoordinator(repo repository.ConversationRepository, config ConfigProvider, tenants tenant.Reader,
	gateway *compliance.Gateway, aiProvider AIProvider, aiBreaker *breaker.Breaker,
	enqueuer scheduler.OutboundEnqueuer, recovery scheduler.RecoveryScheduler,
	boundary *alerts.Boundary, bus events.Bus, m *metrics.Metrics, log *logger.Logger) *Coordinator {
	return &Coordinator{
		repo:      repo,
		config:    config,
		tenants:   tenants,
		gateway:   gateway,
		ai:        aiProvider,
		aiBreaker: aiBreaker,
		enqueuer:  enqueuer,
		recovery:  recovery,
		boundary:  boundary,
		bus:       bus,
		metrics:   m,
		log:       log,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// HandleInboundAI runs the AI ownership checks for an inbound burst and, if
// the AI keeps the conversation, delegates to the state engine via onPhase.
// A no-op while the lead is handed over or the AI is disabled.
func (c *Coordinator) HandleInboundAI(ctx context.Context, lead *domain.Lead, content string, onPhase func(ctx context.Context) error) error {
	if lead.Status == domain.StatusHandover || !lead.AIEnabled {
		return nil
	}

	keywords, err := c.config.Keywords(ctx, lead.TenantID)
	if err != nil {
		c.log.Error("keyword lookup failed", "tenantId", lead.TenantID, "error", err)
		keywords = nil
	}

	// An explicit phrase match skips the paid classification call.
	if domain.MatchKeyword(keywords, content, domain.SourceLead, domain.CategoryTakeover) {
		return c.InitiateHandover(ctx, lead, "lead_request", "lead asked for a human")
	}

	intent, err := breaker.Execute(ctx, c.aiBreaker, func(ctx context.Context) (ai.Intent, error) {
		return c.classifyTimed(ctx, content)
	})
	if err != nil {
		// Classification is advisory; the state engine still answers.
		c.log.Warn("intent classification unavailable", "leadId", lead.ID, "error", err)
	} else {
		if intent.WantsHuman {
			return c.InitiateHandover(ctx, lead, "ai_intent", "classified as wanting a human")
		}
		if intent.BuyingSignal {
			c.bus.Publish(ctx, events.BuyingSignalDetected{
				BaseEvent: events.NewBaseEvent(),
				TenantID:  lead.TenantID,
				LeadID:    lead.ID,
				Content:   content,
			})
		}
	}

	return onPhase(ctx)
}

func (c *Coordinator) classifyTimed(ctx context.Context, content string) (ai.Intent, error) {
	start := c.now()
	intent, err := c.ai.ClassifyIntent(ctx, []string{content})
	c.observeAI("classify_intent", start, err)
	return intent, err
}

// InitiateHandover moves conversation ownership to a human. The status flip
// is a conditional update so concurrent triggers for the same lead collapse
// into one handover, one alert, and one recovery job.
func (c *Coordinator) InitiateHandover(ctx context.Context, lead *domain.Lead, trigger, reason string) error {
	swapped, err := c.repo.MarkHandover(ctx, lead.ID, lead.TenantID, c.now())
	if err != nil {
		return err
	}
	if !swapped {
		return nil
	}
	lead.Status = domain.StatusHandover

	if c.metrics != nil {
		c.metrics.Handovers.WithLabelValues(trigger).Inc()
	}
	c.bus.Publish(ctx, events.HandoverInitiated{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  lead.TenantID,
		LeadID:    lead.ID,
		LeadPhone: lead.Phone,
		Reason:    reason,
	})
	if c.boundary != nil {
		tenantID := lead.TenantID
		c.boundary.Capture(ctx, alerts.SeverityWarn, "handover",
			"conversation handed over: "+reason, &tenantID, nil)
	}

	settings, err := c.config.Settings(ctx, lead.TenantID)
	if err != nil {
		settings = tenant.Settings{}
		settings.ApplyDefaults()
	}
	runAt := c.now().Add(time.Duration(settings.RecoveryTimeoutMinutes) * time.Minute)
	if err := c.recovery.ScheduleLeadRecovery(ctx, scheduler.LeadRecoveryPayload{
		LeadID:   lead.ID.String(),
		TenantID: lead.TenantID.String(),
	}, runAt); err != nil {
		c.log.Error("recovery schedule failed", "leadId", lead.ID, "error", err)
	}

	// Bridge the gap so the lead is never left hanging while waiting for a
	// person.
	t, err := c.tenants.GetByID(ctx, lead.TenantID)
	if err != nil {
		c.log.Error("tenant lookup failed for bridging message", "tenantId", lead.TenantID, "error", err)
		return nil
	}
	return c.SendAsync(ctx, lead, SendParams{
		Content: bridgingMessage(t.AvailabilityStatus),
		Stage:   "handover",
	})
}

func bridgingMessage(availability string) string {
	if availability == "" {
		return "¡Claro! Le aviso al equipo para que te contacte personalmente."
	}
	return "¡Claro! Le aviso al equipo para que te contacte personalmente. " + availability
}

// TriggerAgent drafts and sends the next reply in the given persona. If the
// model fails or its circuit is open, the lead is handed to a human instead
// of being left unanswered.
func (c *Coordinator) TriggerAgent(ctx context.Context, lead *domain.Lead, role domain.AgentRole, userMessage string) error {
	history, err := c.repo.ListRecentMessages(ctx, lead.ID, defaultHistoryLimit)
	if err != nil {
		c.log.Error("history load failed, replying without context", "leadId", lead.ID, "error", err)
		history = nil
	}

	turns := make([]ai.Turn, 0, len(history))
	for _, m := range history {
		turnRole := "user"
		if m.Direction == domain.DirectionOutbound {
			turnRole = "assistant"
		}
		turns = append(turns, ai.Turn{Role: turnRole, Content: m.Content})
	}
	// The inbound turn is appended by the model call itself; drop it from
	// history when it is already the last recorded message.
	if n := len(turns); n > 0 && turns[n-1].Role == "user" && turns[n-1].Content == userMessage {
		turns = turns[:n-1]
	}

	settings, serr := c.config.Settings(ctx, lead.TenantID)
	if serr != nil {
		settings = tenant.Settings{}
		settings.ApplyDefaults()
	}

	req := ai.ReplyRequest{
		Role:     role,
		Lead:     *lead,
		History:  turns,
		Inbound:  userMessage,
		Language: settings.TemplateLanguage,
	}

	reply, err := c.generateWithRetry(ctx, req)
	if err != nil {
		c.log.Error("reply generation failed, handing over", "leadId", lead.ID, "role", role, "error", err)
		return c.InitiateHandover(ctx, lead, "ai_failure", "assistant unavailable")
	}

	return c.SendAsync(ctx, lead, SendParams{
		Content:     reply,
		Stage:       string(role),
		AIGenerated: true,
	})
}

// generateWithRetry makes up to two attempts through the breaker. An open
// circuit is not retried: the cooldown exists to shed load.
func (c *Coordinator) generateWithRetry(ctx context.Context, req ai.ReplyRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			c.sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
		reply, err := breaker.Execute(ctx, c.aiBreaker, func(ctx context.Context) (string, error) {
			start := c.now()
			out, gerr := c.ai.GenerateReply(ctx, req)
			c.observeAI("generate_reply", start, gerr)
			return out, gerr
		})
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if breaker.IsOpen(err) || ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

// SendAsync creates the pending outbound row and queues the provider send.
// The row exists before the provider is called so dashboards and delivery
// reconciliation always have something to attach to. Policy-suppressed
// sends return nil: gating is not an error.
func (c *Coordinator) SendAsync(ctx context.Context, lead *domain.Lead, p SendParams) error {
	var route compliance.Route
	if p.Scripted {
		decision, err := c.gateway.CanSend(ctx, *lead)
		if err != nil || !decision.Allowed {
			c.log.Info("scripted send suppressed", "leadId", lead.ID, "reason", decision.Reason)
			return nil
		}
		route = decision.Route
	} else {
		route = c.gateway.ResolveRoute(*lead)
	}

	if !c.gateway.IsContentAllowed(ctx, *lead, p.Content) {
		c.log.Warn("send blocked by content policy", "leadId", lead.ID)
		return nil
	}

	settings, err := c.config.Settings(ctx, lead.TenantID)
	if err != nil {
		settings = tenant.Settings{}
		settings.ApplyDefaults()
	}

	templateName := p.Template
	if route == compliance.RouteTemplate && templateName == "" {
		templateName = settings.OptOutTemplate
	}
	if route == compliance.RouteTemplate && templateName == "" {
		// Outside the service window with nothing approved to send.
		c.log.Warn("send suppressed: template route with no template configured",
			"leadId", lead.ID, "tenantId", lead.TenantID)
		return nil
	}

	stage := p.Stage
	msg, err := c.repo.InsertMessage(ctx, repository.InsertMessageParams{
		LeadID:        lead.ID,
		TenantID:      lead.TenantID,
		Direction:     domain.DirectionOutbound,
		Content:       p.Content,
		Type:          domain.TypeText,
		AIGenerated:   p.AIGenerated,
		Status:        domain.DeliveryPending,
		CampaignStage: &stage,
	})
	if err != nil {
		return fmt.Errorf("failed to create pending message: %w", err)
	}
	if msg == nil {
		return nil
	}

	if p.Scripted {
		if count, err := c.repo.IncrementUnanswered(ctx, lead.ID, lead.TenantID); err != nil {
			c.log.Error("unanswered increment failed", "leadId", lead.ID, "error", err)
		} else {
			lead.UnansweredCount = count
		}
	}

	if err := c.enqueuer.EnqueueOutboundMessage(ctx, scheduler.OutboundMessagePayload{
		MessageID:    msg.ID.String(),
		TenantID:     lead.TenantID.String(),
		LeadID:       lead.ID.String(),
		Route:        string(route),
		TemplateName: templateName,
		Language:     settings.TemplateLanguage,
	}); err != nil {
		return fmt.Errorf("failed to enqueue outbound send: %w", err)
	}

	c.bus.Publish(ctx, events.MessageSent{
		BaseEvent:   events.NewBaseEvent(),
		TenantID:    lead.TenantID,
		LeadID:      lead.ID,
		MessageID:   msg.ID,
		AIGenerated: p.AIGenerated,
		Stage:       p.Stage,
	})
	return nil
}

func (c *Coordinator) observeAI(operation string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.AIRequests.WithLabelValues(operation, status).Inc()
	c.metrics.AILatency.WithLabelValues(operation).Observe(c.now().Sub(start).Seconds())
}
