// Package conversation is the orchestration core: it routes provider
// events onto leads, drives the per-lead state machine, coordinates AI
// versus human ownership, and queues outbound sends.
package conversation

import (
	"context"
	"errors"
	"time"

	"convopilot_backend/internal/conversation/domain"
	"convopilot_backend/internal/conversation/repository"
	"convopilot_backend/internal/events"
	"convopilot_backend/internal/metrics"
	"convopilot_backend/internal/scheduler"
	"convopilot_backend/internal/tenant"
	"convopilot_backend/platform/logger"
	"convopilot_backend/platform/phone"

	"github.com/google/uuid"
)

// ConfigProvider serves cached tenant settings and keyword lists.
// Satisfied by tenant.Cache.
type ConfigProvider interface {
	Settings(ctx context.Context, id uuid.UUID) (tenant.Settings, error)
	Keywords(ctx context.Context, id uuid.UUID) ([]domain.TakeoverKeyword, error)
}

// Router resolves tenant and lead identity from raw provider events,
// persists messages idempotently, and detects silent human takeover or
// reactivation on outbound traffic.
type Router struct {
	tenants  tenant.Reader
	config   ConfigProvider
	repo     repository.ConversationRepository
	recovery scheduler.RecoveryScheduler
	bus      events.Bus
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time
}

// NewRouter creates the message router.
func NewRouter(tenants tenant.Reader, config ConfigProvider, repo repository.ConversationRepository,
	recovery scheduler.RecoveryScheduler, bus events.Bus, m *metrics.Metrics, log *logger.Logger) *Router {
	return &Router{
		tenants:  tenants,
		config:   config,
		repo:     repo,
		recovery: recovery,
		bus:      bus,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// ResolveTenantID looks up a tenant from the provider's phone number id.
// Lookup failures are logged and reported as "not found", never raised.
func (r *Router) ResolveTenantID(ctx context.Context, externalPhoneID string) (uuid.UUID, bool) {
	if externalPhoneID == "" {
		return uuid.Nil, false
	}
	t, err := r.tenants.GetByExternalPhoneID(ctx, externalPhoneID)
	if err != nil {
		if !errors.Is(err, tenant.ErrNotFound) {
			r.log.Error("tenant resolution failed", "phoneNumberId", externalPhoneID, "error", err)
		}
		return uuid.Nil, false
	}
	return t.ID, true
}

// FindOrInitializeLead looks a lead up by (tenant, phone), creating it in
// COLD state at the tenant's active campaign's first stage on first
// contact. Returns nil when the tenant has no active campaign, which is a
// configuration gap, not an error.
func (r *Router) FindOrInitializeLead(ctx context.Context, tenantID uuid.UUID, phoneNumber string) (*domain.Lead, error) {
	if tenantID == uuid.Nil || phoneNumber == "" {
		return nil, nil
	}

	normalized := phone.NormalizeE164(phoneNumber)

	lead, err := r.repo.GetLeadByPhone(ctx, tenantID, normalized)
	if err == nil {
		return &lead, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	campaign, err := r.repo.GetActiveCampaign(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.log.Warn("no active campaign for tenant, lead not created", "tenantId", tenantID)
			return nil, nil
		}
		return nil, err
	}

	var stageID *uuid.UUID
	if stage, err := r.repo.GetFirstStage(ctx, campaign.ID); err == nil {
		stageID = &stage.ID
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	settings, err := r.config.Settings(ctx, tenantID)
	if err != nil {
		settings = tenant.Settings{}
		settings.ApplyDefaults()
	}

	created, err := r.repo.CreateLead(ctx, repository.CreateLeadParams{
		TenantID:       tenantID,
		Phone:          normalized,
		CurrentStageID: stageID,
		DemoMinutes:    settings.DemoMinutes,
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// PersistMessage writes one message turn. Duplicate provider ids return
// (nil, nil): the redelivery is already recorded.
func (r *Router) PersistMessage(ctx context.Context, params repository.InsertMessageParams) (*domain.Message, error) {
	return r.repo.InsertMessage(ctx, params)
}

// HandleOutboundTakeover classifies an outbound message that did not
// originate from this system's AI path. A REACTIVATION phrase hands the
// conversation back to the AI; anything else typed by a human takes the
// conversation over and arms the recovery job.
func (r *Router) HandleOutboundTakeover(ctx context.Context, lead *domain.Lead, providerID, content string) error {
	if lead == nil {
		return nil
	}

	if providerID != "" {
		msg, err := r.repo.GetMessageByProviderID(ctx, lead.TenantID, providerID)
		if err == nil && msg.AIGenerated {
			// Our own send echoed back.
			return nil
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}

	keywords, err := r.config.Keywords(ctx, lead.TenantID)
	if err != nil {
		r.log.Error("keyword lookup failed during takeover check", "tenantId", lead.TenantID, "error", err)
		keywords = nil
	}

	if domain.MatchKeyword(keywords, content, domain.SourceInternal, domain.CategoryReactivation) {
		swapped, err := r.repo.ReactivateAI(ctx, lead.ID, lead.TenantID)
		if err != nil {
			return err
		}
		if swapped {
			if err := r.recovery.CancelLeadRecovery(ctx, lead.ID.String()); err != nil {
				r.log.Error("recovery cancel failed", "leadId", lead.ID, "error", err)
			}
			r.bus.Publish(ctx, events.HandoverRecovered{
				BaseEvent: events.NewBaseEvent(),
				TenantID:  lead.TenantID,
				LeadID:    lead.ID,
			})
		}
		return nil
	}

	// Any other human-typed outbound takes over, whether or not it matches
	// a TAKEOVER phrase: the owner answering from their own device means
	// the AI must stop.
	swapped, err := r.repo.MarkHandover(ctx, lead.ID, lead.TenantID, r.now())
	if err != nil {
		return err
	}
	if !swapped {
		// Already handed over; the existing recovery deadline stands.
		return nil
	}

	settings, err := r.config.Settings(ctx, lead.TenantID)
	if err != nil {
		settings = tenant.Settings{}
		settings.ApplyDefaults()
	}
	runAt := r.now().Add(time.Duration(settings.RecoveryTimeoutMinutes) * time.Minute)
	if err := r.recovery.ScheduleLeadRecovery(ctx, scheduler.LeadRecoveryPayload{
		LeadID:   lead.ID.String(),
		TenantID: lead.TenantID.String(),
	}, runAt); err != nil {
		r.log.Error("recovery schedule failed", "leadId", lead.ID, "error", err)
	}

	if r.metrics != nil {
		r.metrics.Handovers.WithLabelValues("manual_takeover").Inc()
	}
	r.bus.Publish(ctx, events.HandoverInitiated{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  lead.TenantID,
		LeadID:    lead.ID,
		LeadPhone: lead.Phone,
		Reason:    "manual takeover",
	})
	return nil
}

// HandleStatusUpdate reconciles a delivery receipt. Failures are logged,
// never raised: receipts are advisory.
func (r *Router) HandleStatusUpdate(ctx context.Context, providerID, status string) {
	if providerID == "" {
		return
	}

	var delivery domain.DeliveryStatus
	wasRead := false
	switch status {
	case "sent":
		delivery = domain.DeliverySent
	case "delivered":
		delivery = domain.DeliveryDelivered
	case "read":
		delivery = domain.DeliveryRead
		wasRead = true
	case "failed":
		delivery = domain.DeliveryFailed
	default:
		r.log.Debug("unknown delivery status ignored", "providerId", providerID, "status", status)
		return
	}

	if err := r.repo.UpdateDeliveryStatus(ctx, providerID, delivery, wasRead); err != nil {
		r.log.Error("delivery status update failed", "providerId", providerID, "error", err)
	}
}
