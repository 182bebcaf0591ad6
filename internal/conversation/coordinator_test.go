package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"convopilot_backend/internal/ai"
	"convopilot_backend/internal/alerts"
	"convopilot_backend/internal/breaker"
	"convopilot_backend/internal/compliance"
	"convopilot_backend/internal/conversation/domain"
	"convopilot_backend/internal/events"
	"convopilot_backend/internal/metrics"
	"convopilot_backend/internal/tenant"
	"convopilot_backend/platform/logger"
)

type coordinatorFixture struct {
	coordinator *Coordinator
	repo        *fakeRepo
	ai          *fakeAI
	queue       *fakeQueue
}

func newCoordinatorFixture(cfg *fakeConfig, aiClient *fakeAI) *coordinatorFixture {
	log := logger.NewNop()
	repo := newFakeRepo()
	queue := &fakeQueue{}
	m := metrics.New("test")
	tenants := &fakeTenants{tenant: tenant.Tenant{
		ID:                 newUUID(),
		AvailabilityStatus: "Horario de atención: 9 a 18 hrs.",
	}}
	gateway := compliance.New(cfg, log)
	aiBreaker := breaker.New("gemini-test", 3, time.Minute, log)
	boundary := alerts.NewBoundary(nil, nil, m, log)
	bus := events.NewInMemoryBus(log)

	c := NewCoordinator(repo, cfg, tenants, gateway, aiClient, aiBreaker,
		queue, queue, boundary, bus, m, log)
	c.sleep = func(time.Duration) {}
	return &coordinatorFixture{coordinator: c, repo: repo, ai: aiClient, queue: queue}
}

func activeLead(repo *fakeRepo) *domain.Lead {
	now := time.Now()
	return repo.addLead(domain.Lead{
		TenantID:      newUUID(),
		Phone:         "+12025550123",
		State:         domain.StateCold,
		Status:        domain.StatusActive,
		AIEnabled:     true,
		LastInboundAt: &now,
	})
}

func TestCoordinatorNoOpDuringHandover(t *testing.T) {
	fx := newCoordinatorFixture(&fakeConfig{}, &fakeAI{})
	lead := fx.repo.addLead(domain.Lead{
		TenantID:  newUUID(),
		Phone:     "+12025550123",
		Status:    domain.StatusHandover,
		AIEnabled: true,
	})

	phaseRan := false
	err := fx.coordinator.HandleInboundAI(context.Background(), lead, "hola", func(context.Context) error {
		phaseRan = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if phaseRan {
		t.Fatalf("phase must not run while handed over")
	}
	if fx.ai.classifyCalls != 0 {
		t.Fatalf("expected no classification call during handover")
	}
}

func TestCoordinatorNoOpWhenAIDisabled(t *testing.T) {
	fx := newCoordinatorFixture(&fakeConfig{}, &fakeAI{})
	lead := fx.repo.addLead(domain.Lead{
		TenantID:  newUUID(),
		Phone:     "+12025550123",
		Status:    domain.StatusActive,
		AIEnabled: false,
	})

	phaseRan := false
	if err := fx.coordinator.HandleInboundAI(context.Background(), lead, "hola", func(context.Context) error {
		phaseRan = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if phaseRan || fx.ai.classifyCalls != 0 {
		t.Fatalf("expected full no-op with AI disabled")
	}
}

func TestCoordinatorKeywordShortCircuitsClassification(t *testing.T) {
	cfg := &fakeConfig{keywords: []domain.TakeoverKeyword{{
		Phrase:   "hablar con alguien",
		Source:   domain.SourceLead,
		Category: domain.CategoryTakeover,
	}}}
	fx := newCoordinatorFixture(cfg, &fakeAI{})
	lead := activeLead(fx.repo)

	phaseRan := false
	err := fx.coordinator.HandleInboundAI(context.Background(), lead, "quiero hablar con alguien", func(context.Context) error {
		phaseRan = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fx.ai.classifyCalls != 0 {
		t.Fatalf("keyword match must skip the paid classification call")
	}
	if phaseRan {
		t.Fatalf("phase must not run after handover")
	}
	if fx.repo.lead(lead.ID).Status != domain.StatusHandover {
		t.Fatalf("expected status HANDOVER")
	}
	if len(fx.queue.recovery) != 1 {
		t.Fatalf("expected one recovery job, got %d", len(fx.queue.recovery))
	}
	wantRunAt := time.Now().Add(time.Duration(tenant.DefaultRecoveryTimeoutMinutes) * time.Minute)
	if diff := fx.queue.runAts[0].Sub(wantRunAt); diff < -5*time.Second || diff > 5*time.Second {
		t.Fatalf("recovery scheduled at %v, want about %v", fx.queue.runAts[0], wantRunAt)
	}

	outbound := fx.repo.outbound()
	if len(outbound) != 1 {
		t.Fatalf("expected one bridging message, got %d", len(outbound))
	}
	if !strings.Contains(outbound[0].Content, "9 a 18") {
		t.Fatalf("bridging message should carry the availability string, got %q", outbound[0].Content)
	}
}

func TestCoordinatorIntentWantsHumanInitiatesHandover(t *testing.T) {
	fx := newCoordinatorFixture(&fakeConfig{}, &fakeAI{intent: aiIntent(true, false)})
	lead := activeLead(fx.repo)

	phaseRan := false
	if err := fx.coordinator.HandleInboundAI(context.Background(), lead, "me urge que me llamen", func(context.Context) error {
		phaseRan = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fx.ai.classifyCalls != 1 {
		t.Fatalf("expected one classification call, got %d", fx.ai.classifyCalls)
	}
	if phaseRan {
		t.Fatalf("phase must not run after intent handover")
	}
	if fx.repo.lead(lead.ID).Status != domain.StatusHandover {
		t.Fatalf("expected status HANDOVER")
	}
}

func TestCoordinatorClassificationFailureStillAnswers(t *testing.T) {
	fx := newCoordinatorFixture(&fakeConfig{}, &fakeAI{intentErr: errors.New("model down")})
	lead := activeLead(fx.repo)

	phaseRan := false
	if err := fx.coordinator.HandleInboundAI(context.Background(), lead, "hola", func(context.Context) error {
		phaseRan = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !phaseRan {
		t.Fatalf("classification failure must not block the reply path")
	}
	if fx.repo.lead(lead.ID).Status != domain.StatusActive {
		t.Fatalf("classification failure must not hand over")
	}
}

func TestCoordinatorHandoverIsExclusive(t *testing.T) {
	fx := newCoordinatorFixture(&fakeConfig{}, &fakeAI{})
	lead := activeLead(fx.repo)

	if err := fx.coordinator.InitiateHandover(context.Background(), lead, "lead_request", "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := fx.coordinator.InitiateHandover(context.Background(), lead, "ai_intent", "second"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fx.queue.recovery) != 1 {
		t.Fatalf("concurrent handover triggers must collapse to one recovery job, got %d", len(fx.queue.recovery))
	}
	if got := len(fx.repo.outbound()); got != 1 {
		t.Fatalf("expected a single bridging message, got %d", got)
	}
}

func TestCoordinatorAgentFailureFallsBackToHandover(t *testing.T) {
	fx := newCoordinatorFixture(&fakeConfig{}, &fakeAI{replyErr: errors.New("timeout")})
	lead := activeLead(fx.repo)

	if err := fx.coordinator.TriggerAgent(context.Background(), lead, domain.RoleCloser, "hola"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fx.ai.generateCalls != 2 {
		t.Fatalf("expected one retry before giving up, got %d calls", fx.ai.generateCalls)
	}
	if fx.repo.lead(lead.ID).Status != domain.StatusHandover {
		t.Fatalf("AI failure must hand the lead to a human, never leave it unanswered")
	}
	if got := len(fx.repo.outbound()); got != 1 {
		t.Fatalf("expected the bridging message as the only outbound, got %d", got)
	}
}

func TestCoordinatorAgentSuccessQueuesReply(t *testing.T) {
	fx := newCoordinatorFixture(&fakeConfig{}, &fakeAI{reply: "¡Con gusto! ¿Te muestro la demo?"})
	lead := activeLead(fx.repo)

	if err := fx.coordinator.TriggerAgent(context.Background(), lead, domain.RoleCloser, "me interesa"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outbound := fx.repo.outbound()
	if len(outbound) != 1 {
		t.Fatalf("expected one pending outbound row, got %d", len(outbound))
	}
	if !outbound[0].AIGenerated {
		t.Fatalf("AI reply row must be flagged aiGenerated")
	}
	if outbound[0].Status != domain.DeliveryPending {
		t.Fatalf("row must be PENDING before the provider ack, got %s", outbound[0].Status)
	}
	if len(fx.queue.outbound) != 1 {
		t.Fatalf("expected one queued send, got %d", len(fx.queue.outbound))
	}
	if fx.queue.outbound[0].Route != string(compliance.RouteFreeform) {
		t.Fatalf("reply within the service window must go freeform, got %s", fx.queue.outbound[0].Route)
	}
}

func TestCoordinatorScriptedSendSuppressedAtUnansweredLimit(t *testing.T) {
	fx := newCoordinatorFixture(&fakeConfig{settings: tenant.Settings{MaxUnanswered: 3}}, &fakeAI{})
	now := time.Now()
	lead := fx.repo.addLead(domain.Lead{
		TenantID:        newUUID(),
		Phone:           "+12025550123",
		Status:          domain.StatusActive,
		UnansweredCount: 3,
		LastInboundAt:   &now,
	})

	if err := fx.coordinator.SendAsync(context.Background(), lead, SendParams{
		Content:  "¿Sigues ahí?",
		Stage:    "followup",
		Scripted: true,
	}); err != nil {
		t.Fatalf("suppression is not an error: %v", err)
	}

	if len(fx.repo.outbound()) != 0 || len(fx.queue.outbound) != 0 {
		t.Fatalf("send over the unanswered limit must be suppressed")
	}
}

func TestCoordinatorScriptedSendIncrementsUnanswered(t *testing.T) {
	fx := newCoordinatorFixture(&fakeConfig{}, &fakeAI{})
	lead := activeLead(fx.repo)

	if err := fx.coordinator.SendAsync(context.Background(), lead, SendParams{
		Content:  "¿Te mando los tips de esta semana?",
		Stage:    "nurturing_broadcast",
		Scripted: true,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := fx.repo.lead(lead.ID).UnansweredCount; got != 1 {
		t.Fatalf("scripted send must increment unansweredCount, got %d", got)
	}
}

func TestCoordinatorAIReplyDoesNotIncrementUnanswered(t *testing.T) {
	fx := newCoordinatorFixture(&fakeConfig{}, &fakeAI{reply: "Claro que sí."})
	lead := activeLead(fx.repo)

	if err := fx.coordinator.TriggerAgent(context.Background(), lead, domain.RoleCloser, "hola"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := fx.repo.lead(lead.ID).UnansweredCount; got != 0 {
		t.Fatalf("AI replies never count against the anti-spam cap, got %d", got)
	}
}

func TestCoordinatorTemplateRouteWithoutTemplateSuppressed(t *testing.T) {
	fx := newCoordinatorFixture(&fakeConfig{}, &fakeAI{})
	// No inbound history: outside the service window.
	lead := fx.repo.addLead(domain.Lead{
		TenantID: newUUID(),
		Phone:    "+12025550123",
		Status:   domain.StatusActive,
	})

	if err := fx.coordinator.SendAsync(context.Background(), lead, SendParams{
		Content: "hola",
		Stage:   "followup",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fx.queue.outbound) != 0 {
		t.Fatalf("template route with no configured template must suppress the send")
	}
}

func aiIntent(wantsHuman, buyingSignal bool) ai.Intent {
	return ai.Intent{WantsHuman: wantsHuman, BuyingSignal: buyingSignal, Sentiment: "neutral"}
}
