package conversation

import (
	"context"
	"testing"
	"time"

	"convopilot_backend/internal/conversation/domain"
	"convopilot_backend/internal/conversation/repository"
	"convopilot_backend/internal/events"
	"convopilot_backend/internal/metrics"
	"convopilot_backend/internal/tenant"
	"convopilot_backend/platform/logger"

	"github.com/google/uuid"
)

func newTestRouter(repo *fakeRepo, cfg *fakeConfig, tenants *fakeTenants, queue *fakeQueue) *Router {
	log := logger.NewNop()
	return NewRouter(tenants, cfg, repo, queue, events.NewInMemoryBus(log), metrics.New("test"), log)
}

func TestRouterResolveTenantID(t *testing.T) {
	id := newUUID()
	tenants := &fakeTenants{tenant: tenant.Tenant{ID: id, ExternalPhoneID: "10987654321"}}
	router := newTestRouter(newFakeRepo(), &fakeConfig{}, tenants, &fakeQueue{})

	got, ok := router.ResolveTenantID(context.Background(), "10987654321")
	if !ok || got != id {
		t.Fatalf("expected tenant %s, got %s ok=%v", id, got, ok)
	}

	if _, ok := router.ResolveTenantID(context.Background(), "unknown"); ok {
		t.Fatalf("unknown phone id must not resolve")
	}
	if _, ok := router.ResolveTenantID(context.Background(), ""); ok {
		t.Fatalf("empty phone id must not resolve")
	}
}

func TestRouterFindOrInitializeLeadCreatesAtFirstStage(t *testing.T) {
	repo := newFakeRepo()
	tenantID := newUUID()
	campaignID := newUUID()
	stageID := newUUID()
	repo.campaigns = []repository.Campaign{{ID: campaignID, TenantID: tenantID, IsActive: true}}
	repo.stages = []repository.CampaignStage{
		{ID: newUUID(), CampaignID: campaignID, Position: 2},
		{ID: stageID, CampaignID: campaignID, Position: 1},
	}
	router := newTestRouter(repo, &fakeConfig{}, &fakeTenants{}, &fakeQueue{})

	lead, err := router.FindOrInitializeLead(context.Background(), tenantID, "+1 202 555 0123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lead == nil {
		t.Fatalf("expected a lead")
	}
	if lead.State != domain.StateCold {
		t.Fatalf("new lead must start COLD, got %s", lead.State)
	}
	if lead.CurrentStageID == nil || *lead.CurrentStageID != stageID {
		t.Fatalf("expected first stage %s, got %v", stageID, lead.CurrentStageID)
	}

	// Second call resolves the same lead.
	again, err := router.FindOrInitializeLead(context.Background(), tenantID, "+12025550123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again == nil || again.ID != lead.ID {
		t.Fatalf("expected lookup to return the existing lead")
	}
}

func TestRouterFindOrInitializeLeadNoActiveCampaign(t *testing.T) {
	router := newTestRouter(newFakeRepo(), &fakeConfig{}, &fakeTenants{}, &fakeQueue{})

	lead, err := router.FindOrInitializeLead(context.Background(), newUUID(), "+12025550123")
	if err != nil {
		t.Fatalf("missing campaign is a config gap, not an error: %v", err)
	}
	if lead != nil {
		t.Fatalf("expected no lead without an active campaign")
	}
}

func TestRouterFindOrInitializeLeadEmptyInputs(t *testing.T) {
	router := newTestRouter(newFakeRepo(), &fakeConfig{}, &fakeTenants{}, &fakeQueue{})

	if lead, err := router.FindOrInitializeLead(context.Background(), uuid.Nil, "+12025550123"); err != nil || lead != nil {
		t.Fatalf("nil tenant must yield nothing, got %v %v", lead, err)
	}
	if lead, err := router.FindOrInitializeLead(context.Background(), newUUID(), ""); err != nil || lead != nil {
		t.Fatalf("empty phone must yield nothing, got %v %v", lead, err)
	}
}

func TestRouterPersistMessageIdempotent(t *testing.T) {
	repo := newFakeRepo()
	router := newTestRouter(repo, &fakeConfig{}, &fakeTenants{}, &fakeQueue{})
	lead := repo.addLead(domain.Lead{TenantID: newUUID(), Phone: "+12025550123"})

	providerID := "wamid.dup"
	params := repository.InsertMessageParams{
		LeadID:            lead.ID,
		TenantID:          lead.TenantID,
		Direction:         domain.DirectionInbound,
		Content:           "hola",
		ProviderMessageID: &providerID,
		Type:              domain.TypeText,
	}

	first, err := router.PersistMessage(context.Background(), params)
	if err != nil || first == nil {
		t.Fatalf("first persist must store: %v %v", first, err)
	}
	second, err := router.PersistMessage(context.Background(), params)
	if err != nil {
		t.Fatalf("duplicate persist must not error: %v", err)
	}
	if second != nil {
		t.Fatalf("duplicate provider id must return nil, got %+v", second)
	}
	if got := len(repo.messages); got != 1 {
		t.Fatalf("expected exactly one stored row, got %d", got)
	}
}

func TestRouterTakeoverSkipsOwnAIEcho(t *testing.T) {
	repo := newFakeRepo()
	router := newTestRouter(repo, &fakeConfig{}, &fakeTenants{}, &fakeQueue{})
	lead := repo.addLead(domain.Lead{TenantID: newUUID(), Phone: "+12025550123", Status: domain.StatusActive})

	providerID := "wamid.ai1"
	if _, err := repo.InsertMessage(context.Background(), repository.InsertMessageParams{
		LeadID:            lead.ID,
		TenantID:          lead.TenantID,
		Direction:         domain.DirectionOutbound,
		Content:           "Hola, soy tu asistente",
		ProviderMessageID: &providerID,
		AIGenerated:       true,
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := router.HandleOutboundTakeover(context.Background(), lead, providerID, "Hola, soy tu asistente"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lead(lead.ID).Status != domain.StatusActive {
		t.Fatalf("our own AI echo must not trigger a takeover")
	}
}

func TestRouterTakeoverOnHumanEcho(t *testing.T) {
	repo := newFakeRepo()
	queue := &fakeQueue{}
	router := newTestRouter(repo, &fakeConfig{}, &fakeTenants{}, queue)
	lead := repo.addLead(domain.Lead{TenantID: newUUID(), Phone: "+12025550123", Status: domain.StatusActive})

	if err := router.HandleOutboundTakeover(context.Background(), lead, "wamid.human1", "ahorita te marco yo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.lead(lead.ID).Status != domain.StatusHandover {
		t.Fatalf("human-typed outbound must take the conversation over")
	}
	if len(queue.recovery) != 1 {
		t.Fatalf("takeover must arm the recovery job, got %d", len(queue.recovery))
	}
	if queue.recovery[0].LeadID != lead.ID.String() {
		t.Fatalf("recovery job keyed to wrong lead: %s", queue.recovery[0].LeadID)
	}
}

func TestRouterTakeoverAlreadyHandedOverKeepsDeadline(t *testing.T) {
	repo := newFakeRepo()
	queue := &fakeQueue{}
	router := newTestRouter(repo, &fakeConfig{}, &fakeTenants{}, queue)
	lead := repo.addLead(domain.Lead{TenantID: newUUID(), Phone: "+12025550123", Status: domain.StatusHandover})

	if err := router.HandleOutboundTakeover(context.Background(), lead, "wamid.human2", "sigo yo con este cliente"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queue.recovery) != 0 {
		t.Fatalf("a second human message must not re-arm recovery, got %d", len(queue.recovery))
	}
}

func TestRouterReactivationKeywordRestoresAI(t *testing.T) {
	repo := newFakeRepo()
	queue := &fakeQueue{}
	cfg := &fakeConfig{keywords: []domain.TakeoverKeyword{{
		Phrase:   "bot continua",
		Source:   domain.SourceInternal,
		Category: domain.CategoryReactivation,
	}}}
	router := newTestRouter(repo, cfg, &fakeTenants{}, queue)
	lead := repo.addLead(domain.Lead{TenantID: newUUID(), Phone: "+12025550123", Status: domain.StatusHandover})

	if err := router.HandleOutboundTakeover(context.Background(), lead, "wamid.react1", "Bot continua por favor"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := repo.lead(lead.ID)
	if stored.Status != domain.StatusActive || !stored.AIEnabled {
		t.Fatalf("reactivation phrase must restore AI ownership, got %+v", stored)
	}
	if len(queue.cancelled) != 1 || queue.cancelled[0] != lead.ID.String() {
		t.Fatalf("reactivation must cancel the pending recovery job, got %v", queue.cancelled)
	}
}

func TestRouterStatusUpdate(t *testing.T) {
	repo := newFakeRepo()
	router := newTestRouter(repo, &fakeConfig{}, &fakeTenants{}, &fakeQueue{})
	lead := repo.addLead(domain.Lead{TenantID: newUUID(), Phone: "+12025550123"})

	providerID := "wamid.out1"
	if _, err := repo.InsertMessage(context.Background(), repository.InsertMessageParams{
		LeadID:            lead.ID,
		TenantID:          lead.TenantID,
		Direction:         domain.DirectionOutbound,
		Content:           "hola",
		ProviderMessageID: &providerID,
		Status:            domain.DeliverySent,
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	router.HandleStatusUpdate(context.Background(), providerID, "read")

	msg, err := repo.GetMessageByProviderID(context.Background(), lead.TenantID, providerID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if msg.Status != domain.DeliveryRead || !msg.WasRead {
		t.Fatalf("expected READ with wasRead, got %s wasRead=%v", msg.Status, msg.WasRead)
	}

	// Unknown statuses and unknown ids are ignored, never raised.
	router.HandleStatusUpdate(context.Background(), providerID, "warehouse_on_fire")
	router.HandleStatusUpdate(context.Background(), "wamid.missing", "read")
}

func TestRouterTakeoverSchedulesRecoveryWithTenantTimeout(t *testing.T) {
	repo := newFakeRepo()
	queue := &fakeQueue{}
	cfg := &fakeConfig{settings: tenant.Settings{RecoveryTimeoutMinutes: 30}}
	router := newTestRouter(repo, cfg, &fakeTenants{}, queue)
	lead := repo.addLead(domain.Lead{TenantID: newUUID(), Phone: "+12025550123", Status: domain.StatusActive})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	router.now = func() time.Time { return base }

	if err := router.HandleOutboundTakeover(context.Background(), lead, "wamid.human3", "yo sigo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queue.runAts) != 1 || !queue.runAts[0].Equal(base.Add(30*time.Minute)) {
		t.Fatalf("expected recovery at +30m, got %v", queue.runAts)
	}
}
