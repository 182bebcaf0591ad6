package repository

import (
	"context"
	"errors"
	"time"

	"convopilot_backend/internal/conversation/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no row matches the lookup.
var ErrNotFound = errors.New("conversation: not found")

// Repository is the pgx-backed conversation store.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a conversation repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const leadColumns = `id, tenant_id, phone, name, state, status, ai_enabled, unanswered_count,
	last_inbound_at, last_interaction, last_broadcast_interaction,
	demo_started_at, demo_expires_at, demo_minutes,
	nurturing_opt_in_at, onboarding_complete, metadata, current_stage_id, tags,
	created_at, updated_at`

func scanLead(row pgx.Row) (domain.Lead, error) {
	var l domain.Lead
	err := row.Scan(&l.ID, &l.TenantID, &l.Phone, &l.Name, &l.State, &l.Status, &l.AIEnabled, &l.UnansweredCount,
		&l.LastInboundAt, &l.LastInteraction, &l.LastBroadcastInteraction,
		&l.DemoStartedAt, &l.DemoExpiresAt, &l.DemoMinutes,
		&l.NurturingOptInAt, &l.OnboardingComplete, &l.Metadata, &l.CurrentStageID, &l.Tags,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Lead{}, ErrNotFound
		}
		return domain.Lead{}, err
	}
	return l, nil
}

// GetLeadByID loads one lead scoped to its tenant.
func (r *Repository) GetLeadByID(ctx context.Context, id, tenantID uuid.UUID) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanLead(row)
}

// GetLeadByPhone loads a lead by its (tenant, phone) identity.
func (r *Repository) GetLeadByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE tenant_id = $1 AND phone = $2
	`, tenantID, phone)
	return scanLead(row)
}

// CreateLead inserts a new lead in COLD state under AI ownership. A
// concurrent webhook delivery creating the same (tenant, phone) loses the
// race gracefully: the existing row is returned instead.
func (r *Repository) CreateLead(ctx context.Context, params CreateLeadParams) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO leads (tenant_id, phone, name, state, status, ai_enabled, demo_minutes, current_stage_id)
		VALUES ($1, $2, $3, $4, $5, true, $6, $7)
		ON CONFLICT (tenant_id, phone) DO NOTHING
		RETURNING `+leadColumns+`
	`, params.TenantID, params.Phone, params.Name, domain.StateCold, domain.StatusActive, params.DemoMinutes, params.CurrentStageID)

	lead, err := scanLead(row)
	if errors.Is(err, ErrNotFound) {
		return r.GetLeadByPhone(ctx, params.TenantID, params.Phone)
	}
	return lead, err
}

// UpdateLeadState sets the conversation-flow state.
func (r *Repository) UpdateLeadState(ctx context.Context, id, tenantID uuid.UUID, state domain.State) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET state = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, state)
	return err
}

// AddTag appends a tag if not already present.
func (r *Repository) AddTag(ctx context.Context, id, tenantID uuid.UUID, tag string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET tags = array_append(tags, $3), updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND NOT ($3 = ANY(tags))
	`, id, tenantID, tag)
	return err
}

// SetDemoSession starts a timed demo session.
func (r *Repository) SetDemoSession(ctx context.Context, id, tenantID uuid.UUID, startedAt, expiresAt time.Time, minutes int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET state = $3, demo_started_at = $4, demo_expires_at = $5, demo_minutes = $6, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, domain.StateDemo, startedAt, expiresAt, minutes)
	return err
}

// EndDemoSession reverts an expired demo back to INTERESTED.
func (r *Repository) EndDemoSession(ctx context.Context, id, tenantID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET state = $3, demo_started_at = NULL, demo_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, domain.StateInterested)
	return err
}

// SetNurturingOptIn records a nurturing opt-in and moves the lead there.
func (r *Repository) SetNurturingOptIn(ctx context.Context, id, tenantID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET state = $3, nurturing_opt_in_at = $4, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, domain.StateNurturing, at)
	return err
}

// TouchInbound records inbound activity: refreshes timestamps and resets
// the anti-spam counter. Any inbound resets unanswered_count.
func (r *Repository) TouchInbound(ctx context.Context, id, tenantID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET last_inbound_at = $3, last_interaction = $3, unanswered_count = 0, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, at)
	return err
}

// TouchBroadcastInteraction refreshes the nurturing broadcast timestamp.
func (r *Repository) TouchBroadcastInteraction(ctx context.Context, id, tenantID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET last_broadcast_interaction = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, at)
	return err
}

// IncrementUnanswered bumps the anti-spam counter for tenant-initiated
// scripted sends and returns the new value.
func (r *Repository) IncrementUnanswered(ctx context.Context, id, tenantID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE leads SET unanswered_count = unanswered_count + 1, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
		RETURNING unanswered_count
	`, id, tenantID).Scan(&count)
	return count, err
}

// MarkHandover conditionally flips ACTIVE -> HANDOVER.
func (r *Repository) MarkHandover(ctx context.Context, id, tenantID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET status = $3, handover_at = $4, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status <> $3
	`, id, tenantID, domain.StatusHandover, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReactivateAI flips HANDOVER -> ACTIVE unconditionally (keyword path).
func (r *Repository) ReactivateAI(ctx context.Context, id, tenantID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET status = $3, ai_enabled = true, handover_at = NULL, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status = $4
	`, id, tenantID, domain.StatusActive, domain.StatusHandover)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecoverHandover re-enables the AI only when the lead is still handed over
// and no human-typed outbound message arrived since the handover. One
// conditional statement, so concurrent recovery deliveries cannot compound
// stale reads.
func (r *Repository) RecoverHandover(ctx context.Context, id, tenantID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET status = $3, ai_enabled = true, handover_at = NULL, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status = $4
		  AND NOT EXISTS (
			SELECT 1 FROM messages m
			WHERE m.lead_id = leads.id
			  AND m.direction = 'OUTBOUND'
			  AND m.ai_generated = false
			  AND m.created_at > leads.handover_at
		  )
	`, id, tenantID, domain.StatusActive, domain.StatusHandover)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
