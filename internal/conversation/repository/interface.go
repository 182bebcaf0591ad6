package repository

import (
	"context"
	"time"

	"convopilot_backend/internal/conversation/domain"

	"github.com/google/uuid"
)

// =====================================
// Segregated Interfaces (Interface Segregation Principle)
// =====================================

// LeadReader provides read-only access to lead data.
type LeadReader interface {
	GetLeadByID(ctx context.Context, id, tenantID uuid.UUID) (domain.Lead, error)
	GetLeadByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (domain.Lead, error)
}

// LeadWriter provides write operations for lead lifecycle and state.
type LeadWriter interface {
	CreateLead(ctx context.Context, params CreateLeadParams) (domain.Lead, error)
	UpdateLeadState(ctx context.Context, id, tenantID uuid.UUID, state domain.State) error
	AddTag(ctx context.Context, id, tenantID uuid.UUID, tag string) error
	SetDemoSession(ctx context.Context, id, tenantID uuid.UUID, startedAt, expiresAt time.Time, minutes int) error
	EndDemoSession(ctx context.Context, id, tenantID uuid.UUID) error
	SetNurturingOptIn(ctx context.Context, id, tenantID uuid.UUID, at time.Time) error
	TouchInbound(ctx context.Context, id, tenantID uuid.UUID, at time.Time) error
	TouchBroadcastInteraction(ctx context.Context, id, tenantID uuid.UUID, at time.Time) error
	IncrementUnanswered(ctx context.Context, id, tenantID uuid.UUID) (int, error)
	// MarkHandover conditionally flips ACTIVE -> HANDOVER. Returns false if
	// the lead was already handed over (compare-and-swap on status).
	MarkHandover(ctx context.Context, id, tenantID uuid.UUID, at time.Time) (bool, error)
	// ReactivateAI flips HANDOVER -> ACTIVE and re-enables the AI. Returns
	// false if the lead was not in HANDOVER.
	ReactivateAI(ctx context.Context, id, tenantID uuid.UUID) (bool, error)
	// RecoverHandover is ReactivateAI guarded by "no human reply since the
	// handover": the update applies only when no manually-typed outbound
	// message exists after handover_at. Idempotent under job redelivery.
	RecoverHandover(ctx context.Context, id, tenantID uuid.UUID) (bool, error)
}

// MessageReader provides read access to the message log.
type MessageReader interface {
	GetMessageByID(ctx context.Context, id, tenantID uuid.UUID) (domain.Message, error)
	GetMessageByProviderID(ctx context.Context, tenantID uuid.UUID, providerID string) (domain.Message, error)
	ListUnprocessedInbound(ctx context.Context, leadID uuid.UUID) ([]domain.Message, error)
	ListRecentMessages(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Message, error)
	LastInboundAt(ctx context.Context, leadID uuid.UUID) (*time.Time, error)
}

// MessageWriter provides write operations on the message log.
type MessageWriter interface {
	// InsertMessage upserts keyed by provider message id. On a uniqueness
	// conflict it returns (nil, nil): the duplicate delivery is already
	// recorded, not an error.
	InsertMessage(ctx context.Context, params InsertMessageParams) (*domain.Message, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID) error
	UpdateDeliveryStatus(ctx context.Context, providerID string, status domain.DeliveryStatus, wasRead bool) error
	SetProviderMessageID(ctx context.Context, id uuid.UUID, providerID string, status domain.DeliveryStatus) error
	MarkSendFailed(ctx context.Context, id uuid.UUID) error
}

// CampaignReader provides read access to campaign configuration.
type CampaignReader interface {
	GetActiveCampaign(ctx context.Context, tenantID uuid.UUID) (Campaign, error)
	GetFirstStage(ctx context.Context, campaignID uuid.UUID) (CampaignStage, error)
	GetCampaignByID(ctx context.Context, id, tenantID uuid.UUID) (Campaign, error)
}

// ConversationRepository is the full repository contract used by the core.
type ConversationRepository interface {
	LeadReader
	LeadWriter
	MessageReader
	MessageWriter
	CampaignReader
}

// =====================================
// Parameter and row types
// =====================================

// CreateLeadParams creates a new lead positioned at a campaign's first stage.
type CreateLeadParams struct {
	TenantID       uuid.UUID
	Phone          string
	Name           string
	CurrentStageID *uuid.UUID
	DemoMinutes    int
}

// InsertMessageParams records one message turn.
type InsertMessageParams struct {
	LeadID            uuid.UUID
	TenantID          uuid.UUID
	Direction         domain.Direction
	Content           string
	ProviderMessageID *string
	Type              domain.MessageType
	ButtonID          *string
	AIGenerated       bool
	Status            domain.DeliveryStatus
	CampaignStage     *string
}

// Campaign is an outbound campaign owned by a tenant. Provider credentials,
// when set, override the tenant defaults for sends on this campaign.
type Campaign struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Name            string
	IsActive        bool
	ProviderToken   *string
	ProviderPhoneID *string
}

// CampaignStage is one step of a campaign sequence.
type CampaignStage struct {
	ID          uuid.UUID
	CampaignID  uuid.UUID
	Name        string
	Position    int
	WaitMinutes int
}
