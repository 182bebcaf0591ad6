package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"convopilot_backend/internal/ai"
	"convopilot_backend/internal/conversation/domain"
	"convopilot_backend/internal/conversation/repository"
	"convopilot_backend/internal/provider/whatsapp"
	"convopilot_backend/internal/scheduler"
	"convopilot_backend/internal/tenant"

	"github.com/google/uuid"
)

func newUUID() uuid.UUID { return uuid.New() }

// fakeRepo is an in-memory ConversationRepository good enough for the
// core's read-check-write sequences.
type fakeRepo struct {
	mu         sync.Mutex
	leads      map[uuid.UUID]*domain.Lead
	messages   []*domain.Message
	campaigns  []repository.Campaign
	stages     []repository.CampaignStage
	handoverAt map[uuid.UUID]time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		leads:      make(map[uuid.UUID]*domain.Lead),
		handoverAt: make(map[uuid.UUID]time.Time),
	}
}

func (f *fakeRepo) addLead(lead domain.Lead) *domain.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := lead
	if copied.ID == uuid.Nil {
		copied.ID = uuid.New()
	}
	f.leads[copied.ID] = &copied
	return &copied
}

func (f *fakeRepo) lead(id uuid.UUID) domain.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.leads[id]
}

func (f *fakeRepo) GetLeadByID(_ context.Context, id, tenantID uuid.UUID) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok || l.TenantID != tenantID {
		return domain.Lead{}, repository.ErrNotFound
	}
	return *l, nil
}

func (f *fakeRepo) GetLeadByPhone(_ context.Context, tenantID uuid.UUID, phone string) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.leads {
		if l.TenantID == tenantID && l.Phone == phone {
			return *l, nil
		}
	}
	return domain.Lead{}, repository.ErrNotFound
}

func (f *fakeRepo) CreateLead(_ context.Context, params repository.CreateLeadParams) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.leads {
		if l.TenantID == params.TenantID && l.Phone == params.Phone {
			return *l, nil
		}
	}
	lead := domain.Lead{
		ID:             uuid.New(),
		TenantID:       params.TenantID,
		Phone:          params.Phone,
		Name:           params.Name,
		State:          domain.StateCold,
		Status:         domain.StatusActive,
		AIEnabled:      true,
		CurrentStageID: params.CurrentStageID,
		DemoMinutes:    params.DemoMinutes,
		CreatedAt:      time.Now(),
	}
	f.leads[lead.ID] = &lead
	return lead, nil
}

func (f *fakeRepo) UpdateLeadState(_ context.Context, id, tenantID uuid.UUID, state domain.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads[id].State = state
	return nil
}

func (f *fakeRepo) AddTag(_ context.Context, id, tenantID uuid.UUID, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.leads[id]
	if !l.HasTag(tag) {
		l.Tags = append(l.Tags, tag)
	}
	return nil
}

func (f *fakeRepo) SetDemoSession(_ context.Context, id, tenantID uuid.UUID, startedAt, expiresAt time.Time, minutes int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.leads[id]
	l.DemoStartedAt = &startedAt
	l.DemoExpiresAt = &expiresAt
	l.DemoMinutes = minutes
	return nil
}

func (f *fakeRepo) EndDemoSession(_ context.Context, id, tenantID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.leads[id]
	l.DemoStartedAt = nil
	l.DemoExpiresAt = nil
	return nil
}

func (f *fakeRepo) SetNurturingOptIn(_ context.Context, id, tenantID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads[id].NurturingOptInAt = &at
	return nil
}

func (f *fakeRepo) TouchInbound(_ context.Context, id, tenantID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.leads[id]
	l.LastInboundAt = &at
	l.LastInteraction = &at
	l.UnansweredCount = 0
	return nil
}

func (f *fakeRepo) TouchBroadcastInteraction(_ context.Context, id, tenantID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads[id].LastBroadcastInteraction = &at
	return nil
}

func (f *fakeRepo) IncrementUnanswered(_ context.Context, id, tenantID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.leads[id]
	l.UnansweredCount++
	return l.UnansweredCount, nil
}

func (f *fakeRepo) MarkHandover(_ context.Context, id, tenantID uuid.UUID, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.leads[id]
	if l.Status == domain.StatusHandover {
		return false, nil
	}
	l.Status = domain.StatusHandover
	f.handoverAt[id] = at
	return true, nil
}

func (f *fakeRepo) ReactivateAI(_ context.Context, id, tenantID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.leads[id]
	if l.Status != domain.StatusHandover {
		return false, nil
	}
	l.Status = domain.StatusActive
	l.AIEnabled = true
	delete(f.handoverAt, id)
	return true, nil
}

func (f *fakeRepo) RecoverHandover(_ context.Context, id, tenantID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.leads[id]
	if l.Status != domain.StatusHandover {
		return false, nil
	}
	since := f.handoverAt[id]
	for _, m := range f.messages {
		if m.LeadID == id && m.Direction == domain.DirectionOutbound && !m.AIGenerated && m.CreatedAt.After(since) {
			return false, nil
		}
	}
	l.Status = domain.StatusActive
	l.AIEnabled = true
	delete(f.handoverAt, id)
	return true, nil
}

func (f *fakeRepo) GetMessageByID(_ context.Context, id, tenantID uuid.UUID) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id && m.TenantID == tenantID {
			return *m, nil
		}
	}
	return domain.Message{}, repository.ErrNotFound
}

func (f *fakeRepo) GetMessageByProviderID(_ context.Context, tenantID uuid.UUID, providerID string) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.TenantID == tenantID && m.ProviderMessageID != nil && *m.ProviderMessageID == providerID {
			return *m, nil
		}
	}
	return domain.Message{}, repository.ErrNotFound
}

func (f *fakeRepo) ListUnprocessedInbound(_ context.Context, leadID uuid.UUID) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if m.LeadID == leadID && m.Direction == domain.DirectionInbound && !m.IsProcessed {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeRepo) ListRecentMessages(_ context.Context, leadID uuid.UUID, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if m.LeadID == leadID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeRepo) LastInboundAt(_ context.Context, leadID uuid.UUID) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *time.Time
	for _, m := range f.messages {
		if m.LeadID == leadID && m.Direction == domain.DirectionInbound {
			at := m.CreatedAt
			if latest == nil || at.After(*latest) {
				latest = &at
			}
		}
	}
	return latest, nil
}

func (f *fakeRepo) InsertMessage(_ context.Context, params repository.InsertMessageParams) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if params.ProviderMessageID != nil {
		for _, m := range f.messages {
			if m.ProviderMessageID != nil && *m.ProviderMessageID == *params.ProviderMessageID {
				return nil, nil
			}
		}
	}
	msg := &domain.Message{
		ID:                uuid.New(),
		LeadID:            params.LeadID,
		TenantID:          params.TenantID,
		Direction:         params.Direction,
		Content:           params.Content,
		ProviderMessageID: params.ProviderMessageID,
		Type:              params.Type,
		ButtonID:          params.ButtonID,
		AIGenerated:       params.AIGenerated,
		Status:            params.Status,
		CampaignStage:     params.CampaignStage,
		CreatedAt:         time.Now(),
	}
	f.messages = append(f.messages, msg)
	copied := *msg
	return &copied, nil
}

func (f *fakeRepo) MarkProcessed(_ context.Context, ids []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		for _, id := range ids {
			if m.ID == id {
				m.IsProcessed = true
			}
		}
	}
	return nil
}

func (f *fakeRepo) UpdateDeliveryStatus(_ context.Context, providerID string, status domain.DeliveryStatus, wasRead bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ProviderMessageID != nil && *m.ProviderMessageID == providerID {
			m.Status = status
			m.WasRead = m.WasRead || wasRead
		}
	}
	return nil
}

func (f *fakeRepo) SetProviderMessageID(_ context.Context, id uuid.UUID, providerID string, status domain.DeliveryStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			pid := providerID
			m.ProviderMessageID = &pid
			m.Status = status
		}
	}
	return nil
}

func (f *fakeRepo) MarkSendFailed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			m.Status = domain.DeliveryFailed
		}
	}
	return nil
}

func (f *fakeRepo) GetActiveCampaign(_ context.Context, tenantID uuid.UUID) (repository.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.campaigns {
		if c.TenantID == tenantID && c.IsActive {
			return c, nil
		}
	}
	return repository.Campaign{}, repository.ErrNotFound
}

func (f *fakeRepo) GetCampaignByID(_ context.Context, id, tenantID uuid.UUID) (repository.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.campaigns {
		if c.ID == id && c.TenantID == tenantID {
			return c, nil
		}
	}
	return repository.Campaign{}, repository.ErrNotFound
}

func (f *fakeRepo) GetFirstStage(_ context.Context, campaignID uuid.UUID) (repository.CampaignStage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *repository.CampaignStage
	for i := range f.stages {
		s := f.stages[i]
		if s.CampaignID != campaignID {
			continue
		}
		if best == nil || s.Position < best.Position {
			best = &s
		}
	}
	if best == nil {
		return repository.CampaignStage{}, repository.ErrNotFound
	}
	return *best, nil
}

func (f *fakeRepo) outbound() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if m.Direction == domain.DirectionOutbound {
			out = append(out, *m)
		}
	}
	return out
}

var _ repository.ConversationRepository = (*fakeRepo)(nil)

// fakeConfig serves static tenant settings and keywords.
type fakeConfig struct {
	settings tenant.Settings
	keywords []domain.TakeoverKeyword
	err      error
}

func (f *fakeConfig) Settings(context.Context, uuid.UUID) (tenant.Settings, error) {
	if f.err != nil {
		return tenant.Settings{}, f.err
	}
	s := f.settings
	s.ApplyDefaults()
	return s, nil
}

func (f *fakeConfig) Keywords(context.Context, uuid.UUID) ([]domain.TakeoverKeyword, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.keywords, nil
}

// fakeTenants serves one tenant.
type fakeTenants struct {
	tenant tenant.Tenant
}

func (f *fakeTenants) GetByID(context.Context, uuid.UUID) (tenant.Tenant, error) {
	return f.tenant, nil
}

func (f *fakeTenants) GetByExternalPhoneID(_ context.Context, phoneID string) (tenant.Tenant, error) {
	if f.tenant.ExternalPhoneID != phoneID {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	return f.tenant, nil
}

func (f *fakeTenants) GetSettings(context.Context, uuid.UUID) (tenant.Settings, error) {
	return tenant.Settings{}, nil
}

func (f *fakeTenants) ListKeywords(context.Context, uuid.UUID) ([]domain.TakeoverKeyword, error) {
	return nil, nil
}

// fakeAI scripts the model.
type fakeAI struct {
	intent        ai.Intent
	intentErr     error
	reply         string
	replyErr      error
	classifyCalls int
	generateCalls int
}

func (f *fakeAI) ClassifyIntent(context.Context, []string) (ai.Intent, error) {
	f.classifyCalls++
	return f.intent, f.intentErr
}

func (f *fakeAI) GenerateReply(context.Context, ai.ReplyRequest) (string, error) {
	f.generateCalls++
	if f.replyErr != nil {
		return "", f.replyErr
	}
	return f.reply, nil
}

// fakeQueue records enqueued and scheduled jobs.
type fakeQueue struct {
	mu        sync.Mutex
	outbound  []scheduler.OutboundMessagePayload
	recovery  []scheduler.LeadRecoveryPayload
	runAts    []time.Time
	cancelled []string
}

func (f *fakeQueue) EnqueueOutboundMessage(_ context.Context, payload scheduler.OutboundMessagePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbound = append(f.outbound, payload)
	return nil
}

func (f *fakeQueue) ScheduleLeadRecovery(_ context.Context, payload scheduler.LeadRecoveryPayload, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovery = append(f.recovery, payload)
	f.runAts = append(f.runAts, runAt)
	return nil
}

func (f *fakeQueue) CancelLeadRecovery(_ context.Context, leadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, leadID)
	return nil
}

// fakeSender records provider sends.
type fakeSender struct {
	mu        sync.Mutex
	texts     []string
	templates []string
	err       error
	nextID    int
}

func (f *fakeSender) Defaults() whatsapp.Credentials { return whatsapp.Credentials{} }

func (f *fakeSender) SendText(_ context.Context, _ whatsapp.Credentials, _, body string) (whatsapp.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return whatsapp.SendResult{}, f.err
	}
	f.texts = append(f.texts, body)
	f.nextID++
	return whatsapp.SendResult{ProviderMessageID: "wamid." + uuid.NewString()}, nil
}

func (f *fakeSender) SendTemplate(_ context.Context, _ whatsapp.Credentials, _, name, _ string) (whatsapp.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return whatsapp.SendResult{}, f.err
	}
	f.templates = append(f.templates, name)
	return whatsapp.SendResult{ProviderMessageID: "wamid." + uuid.NewString()}, nil
}

// immediateScheduler runs the burst pass synchronously, bypassing the
// debounce timer.
type immediateScheduler struct {
	process func(ctx context.Context, tenantID uuid.UUID, phone string)
}

func (s *immediateScheduler) ScheduleProcessing(tenantID uuid.UUID, phone string) {
	s.process(context.Background(), tenantID, phone)
}
