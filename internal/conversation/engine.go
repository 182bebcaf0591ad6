package conversation

import (
	"context"
	"strings"
	"time"

	"convopilot_backend/internal/conversation/domain"
	"convopilot_backend/internal/conversation/repository"
	"convopilot_backend/internal/events"
	"convopilot_backend/internal/metrics"
	"convopilot_backend/internal/tenant"
	"convopilot_backend/platform/logger"

	"github.com/google/uuid"
)

// Interactive button ids emitted by campaign messages.
const (
	ButtonYesInterested    = "yes_interested"
	ButtonNotInterested    = "not_interested"
	ButtonNurturingOptIn   = "nurturing_yes"
	ButtonNurturingDecline = "nurturing_no"
	ButtonStartDemo        = "demo_yes"
)

// Scripted (non-AI) messages sent by the engine.
const (
	demoHandoffMessage = "¡Perfecto! Te paso con nuestra recepcionista para que pruebes la demo ahora mismo."
	demoWrapUpMessage  = "Tu sesión de demo terminó. ¿Qué te pareció? El equipo te escribe en breve para los siguientes pasos."
	demoOpeningLine    = "Hola, quiero empezar mi demo."
)

// agentDispatcher is the slice of the coordinator the engine calls back
// into for sends. Narrow so engine tests run against a recorder fake.
type agentDispatcher interface {
	TriggerAgent(ctx context.Context, lead *domain.Lead, role domain.AgentRole, userMessage string) error
	SendAsync(ctx context.Context, lead *domain.Lead, p SendParams) error
}

// Engine is the per-lead conversation state machine. Given the current
// state and one inbound burst it performs the deterministic actions (state
// writes, tags, scripted sends) and picks which AI persona answers.
type Engine struct {
	repo       repository.ConversationRepository
	config     ConfigProvider
	dispatcher agentDispatcher
	bus        events.Bus
	metrics    *metrics.Metrics
	log        *logger.Logger
	now        func() time.Time
}

// NewEngine creates the state transition engine.
func NewEngine(repo repository.ConversationRepository, config ConfigProvider, dispatcher agentDispatcher,
	bus events.Bus, m *metrics.Metrics, log *logger.Logger) *Engine {
	return &Engine{
		repo:       repo,
		config:     config,
		dispatcher: dispatcher,
		bus:        bus,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// HandlePhase runs the state-specific logic for one inbound burst.
func (e *Engine) HandlePhase(ctx context.Context, lead *domain.Lead, content string, buttonID *string) error {
	switch lead.State {
	case domain.StateCold:
		return e.handleCold(ctx, lead, content, buttonID)
	case domain.StateInterested:
		return e.handleInterested(ctx, lead, content, buttonID)
	case domain.StateDemo:
		return e.handleDemo(ctx, lead, content)
	case domain.StateNurturing:
		return e.handleNurturing(ctx, lead, content)
	case domain.StateClients:
		// Converted clients get no automatic handling.
		return nil
	default:
		e.log.Warn("lead in unknown state, treating as COLD", "leadId", lead.ID, "state", lead.State)
		return e.handleCold(ctx, lead, content, buttonID)
	}
}

func (e *Engine) handleCold(ctx context.Context, lead *domain.Lead, content string, buttonID *string) error {
	switch {
	case isButton(buttonID, ButtonYesInterested) || isAffirmative(content):
		if err := e.transition(ctx, lead, domain.StateInterested); err != nil {
			return err
		}
		if err := e.tag(ctx, lead, domain.TagInterested); err != nil {
			return err
		}
		return e.dispatcher.TriggerAgent(ctx, lead, domain.RoleCloser, content)

	case isButton(buttonID, ButtonNotInterested) || isNegative(content):
		// Straight to the nurturing opt-out offer; no intermediate
		// follow-ups for a lead who already said no.
		settings := e.settings(ctx, lead.TenantID)
		return e.dispatcher.SendAsync(ctx, lead, SendParams{
			Content:  "Entendido. ¿Te gustaría recibir tips semanales sin compromiso?",
			Stage:    "opt_out_offer",
			Scripted: true,
			Template: settings.OptOutTemplate,
		})

	case isButton(buttonID, ButtonNurturingOptIn) || isNurturingOptIn(content):
		if err := e.repo.SetNurturingOptIn(ctx, lead.ID, lead.TenantID, e.now()); err != nil {
			return err
		}
		if err := e.transition(ctx, lead, domain.StateNurturing); err != nil {
			return err
		}
		return e.dispatcher.TriggerAgent(ctx, lead, domain.RoleNurturing, content)

	case isButton(buttonID, ButtonNurturingDecline) || isNurturingDecline(content):
		if lead.HasTag(domain.TagInterested) {
			return nil
		}
		return e.tag(ctx, lead, domain.TagColder)

	default:
		// Ambiguous replies go to the closer: a lead who writes anything at
		// all is warmer than one who ignores us.
		if err := e.transition(ctx, lead, domain.StateInterested); err != nil {
			return err
		}
		return e.dispatcher.TriggerAgent(ctx, lead, domain.RoleCloser, content)
	}
}

func (e *Engine) handleInterested(ctx context.Context, lead *domain.Lead, content string, buttonID *string) error {
	if isButton(buttonID, ButtonStartDemo) || wantsDemo(content) {
		settings := e.settings(ctx, lead.TenantID)
		minutes := lead.DemoMinutes
		if minutes <= 0 {
			minutes = settings.DemoMinutes
		}

		startedAt := e.now()
		expiresAt := startedAt.Add(time.Duration(minutes) * time.Minute)
		if err := e.repo.SetDemoSession(ctx, lead.ID, lead.TenantID, startedAt, expiresAt, minutes); err != nil {
			return err
		}
		lead.DemoStartedAt = &startedAt
		lead.DemoExpiresAt = &expiresAt
		lead.DemoMinutes = minutes

		if err := e.transition(ctx, lead, domain.StateDemo); err != nil {
			return err
		}
		if err := e.dispatcher.SendAsync(ctx, lead, SendParams{
			Content: demoHandoffMessage,
			Stage:   "demo_handoff",
		}); err != nil {
			return err
		}
		// Hand the mic to the receptionist with a synthetic opener so the
		// demo starts without waiting for the lead's next message.
		return e.dispatcher.TriggerAgent(ctx, lead, domain.RoleReceptionist, demoOpeningLine)
	}

	return e.dispatcher.TriggerAgent(ctx, lead, domain.RoleCloser, content)
}

func (e *Engine) handleDemo(ctx context.Context, lead *domain.Lead, content string) error {
	if lead.DemoExpired(e.now()) {
		if err := e.repo.EndDemoSession(ctx, lead.ID, lead.TenantID); err != nil {
			return err
		}
		lead.DemoStartedAt = nil
		lead.DemoExpiresAt = nil

		if err := e.transition(ctx, lead, domain.StateInterested); err != nil {
			return err
		}
		if err := e.tag(ctx, lead, domain.TagDemoCompleted); err != nil {
			return err
		}
		// The triggering message is swallowed by the wrap-up: no agent runs
		// this turn.
		return e.dispatcher.SendAsync(ctx, lead, SendParams{
			Content:  demoWrapUpMessage,
			Stage:    "demo_wrapup",
			Scripted: true,
		})
	}

	return e.dispatcher.TriggerAgent(ctx, lead, domain.RoleReceptionist, content)
}

func (e *Engine) handleNurturing(ctx context.Context, lead *domain.Lead, content string) error {
	now := e.now()
	if err := e.repo.TouchBroadcastInteraction(ctx, lead.ID, lead.TenantID, now); err != nil {
		e.log.Error("broadcast interaction touch failed", "leadId", lead.ID, "error", err)
	} else {
		lead.LastBroadcastInteraction = &now
	}
	return e.dispatcher.TriggerAgent(ctx, lead, domain.RoleNurturing, content)
}

// transition writes the new state and publishes the change.
func (e *Engine) transition(ctx context.Context, lead *domain.Lead, to domain.State) error {
	from := lead.State
	if from == to {
		return nil
	}
	if err := e.repo.UpdateLeadState(ctx, lead.ID, lead.TenantID, to); err != nil {
		return err
	}
	lead.State = to

	if e.metrics != nil {
		e.metrics.StateChanges.WithLabelValues(string(from), string(to)).Inc()
	}
	e.bus.Publish(ctx, events.LeadStateChanged{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  lead.TenantID,
		LeadID:    lead.ID,
		OldState:  string(from),
		NewState:  string(to),
	})
	if to == domain.StateClients {
		e.bus.Publish(ctx, events.LeadConverted{
			BaseEvent: events.NewBaseEvent(),
			TenantID:  lead.TenantID,
			LeadID:    lead.ID,
		})
	}
	return nil
}

func (e *Engine) tag(ctx context.Context, lead *domain.Lead, tag string) error {
	if lead.HasTag(tag) {
		return nil
	}
	if err := e.repo.AddTag(ctx, lead.ID, lead.TenantID, tag); err != nil {
		return err
	}
	lead.Tags = append(lead.Tags, tag)
	return nil
}

func (e *Engine) settings(ctx context.Context, tenantID uuid.UUID) tenant.Settings {
	settings, err := e.config.Settings(ctx, tenantID)
	if err != nil {
		settings = tenant.Settings{}
	}
	settings.ApplyDefaults()
	return settings
}

// =====================================
// Reply classification
// =====================================

var affirmativePhrases = []string{
	"si", "sí", "me interesa", "claro", "de acuerdo", "por supuesto", "dale", "va", "yes",
}

var negativePhrases = []string{
	"no me interesa", "no gracias", "no quiero", "no, gracias", "not interested",
}

var nurturingOptInPhrases = []string{
	"tips", "consejos", "mandame info", "mándame info",
}

var nurturingDeclinePhrases = []string{
	"no mandes", "no me mandes", "nada de tips", "quitame de la lista", "quítame de la lista",
}

var demoPhrases = []string{
	"demo", "probar", "prueba",
}

func isButton(buttonID *string, want string) bool {
	return buttonID != nil && *buttonID == want
}

func isAffirmative(content string) bool {
	lowered := normalizeReply(content)
	if containsAny(lowered, negativePhrases) {
		return false
	}
	for _, phrase := range affirmativePhrases {
		if lowered == phrase || strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

func isNegative(content string) bool {
	return containsAny(normalizeReply(content), negativePhrases)
}

func isNurturingOptIn(content string) bool {
	lowered := normalizeReply(content)
	if containsAny(lowered, nurturingDeclinePhrases) {
		return false
	}
	return containsAny(lowered, nurturingOptInPhrases)
}

func isNurturingDecline(content string) bool {
	return containsAny(normalizeReply(content), nurturingDeclinePhrases)
}

func wantsDemo(content string) bool {
	return containsAny(normalizeReply(content), demoPhrases)
}

func normalizeReply(content string) string {
	return strings.ToLower(strings.TrimSpace(content))
}

func containsAny(lowered string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
